package upnp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/catalog"
	"github.com/goldmedia/goldmedia/internal/config"
	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/metrics"
)

// ServerBanner is sent on every UPnP response. Some renderers refuse
// servers that do not present as Windows Media Player.
const ServerBanner = "Microsoft-Windows/10.0 UPnP/1.0 WMP/12.0"

// Service is the UPnP control surface: device description, SCPDs, SOAP
// dispatch, and eventing.
type Service struct {
	store     *config.Store
	cat       *catalog.Catalog
	events    *Eventing
	uuid      string
	staticDir string
	log       zerolog.Logger
}

// NewService wires the control surface together.
func NewService(store *config.Store, cat *catalog.Catalog, events *Eventing, uuid, staticDir string) *Service {
	return &Service{
		store:     store,
		cat:       cat,
		events:    events,
		uuid:      uuid,
		staticDir: staticDir,
		log:       logging.WithComponent("upnp"),
	}
}

// Events exposes the eventing engine for subscription routes.
func (s *Service) Events() *Eventing { return s.events }

func (s *Service) baseURL(r *http.Request) string {
	return "http://" + r.Host
}

func (s *Service) hasIcon() bool {
	_, err := os.Stat(filepath.Join(s.staticDir, "images", config.CustomIconFilename))
	return err == nil
}

func serviceParam(r *http.Request) string {
	return chi.URLParam(r, "service")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var actionRe = regexp.MustCompile(`<u:(\w+)[ >]`)

// HandleControl is the SOAP endpoint for all three services. The action
// name is taken from the envelope body; requests whose body cannot be
// read or matched fail with 500.
func (s *Service) HandleControl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "could not read request", http.StatusInternalServerError)
		return
	}

	m := actionRe.FindSubmatch(body)
	if m == nil {
		s.log.Warn().Str("service", serviceParam(r)).Msg("unparseable control request")
		http.Error(w, "could not parse request", http.StatusInternalServerError)
		return
	}
	action := string(m[1])
	metrics.SOAPActions.WithLabelValues(action).Inc()

	switch action {
	case "Browse":
		s.handleBrowse(w, r, string(body))
	case "X_SetBookmark":
		s.handleSetBookmark(w, r, string(body))
	case "GetSystemUpdateID":
		s.writeSOAP(w, "GetSystemUpdateID", map[string]string{
			"Id": strconv.FormatUint(uint64(s.events.SystemUpdateID()), 10),
		})
	case "GetProtocolInfo":
		s.writeSOAP(w, "GetProtocolInfo", map[string]string{
			"Source": "",
			"Sink":   "http-get:*:video/mp4:*,http-get:*:video/x-matroska:*,http-get:*:video/mpeg:*",
		})
	default:
		s.log.Warn().Str("action", action).Msg("unhandled action, returning empty response")
		s.writeSOAP(w, action, nil)
	}
}

// extractTag pulls the text content of the first <tag> element, namespace
// prefixes on attributes ignored.
func extractTag(body, tag string) string {
	open := strings.Index(body, "<"+tag)
	if open < 0 {
		return ""
	}
	rest := body[open:]
	gt := strings.Index(rest, ">")
	end := strings.Index(rest, "</"+tag+">")
	if gt < 0 || end < 0 || gt >= end {
		return ""
	}
	return strings.TrimSpace(rest[gt+1 : end])
}

func (s *Service) handleBrowse(w http.ResponseWriter, r *http.Request, body string) {
	objectID := extractTag(body, "ObjectID")
	if objectID == "" {
		objectID = "0"
	}
	browseFlag := extractTag(body, "BrowseFlag")

	var didl string
	var count int
	if browseFlag == "BrowseMetadata" {
		didl, count = s.browseMetadata(r, objectID)
	} else {
		didl, count = s.browseChildren(r, objectID)
	}

	s.writeSOAP(w, "Browse", map[string]string{
		"Result":         didl,
		"NumberReturned": strconv.Itoa(count),
		"TotalMatches":   strconv.Itoa(count),
		"UpdateID":       strconv.FormatUint(uint64(s.events.SystemUpdateID()), 10),
	})
}

// browseChildren lists a container: the configured roots under "0",
// otherwise the directory behind the decoded object id.
func (s *Service) browseChildren(r *http.Request, objectID string) (string, int) {
	var sb strings.Builder
	sb.WriteString(didlOpen)
	count := 0

	if objectID == "0" {
		for _, root := range s.store.Current().MediaFolders {
			if _, err := os.Stat(root); err != nil {
				continue
			}
			name := filepath.Base(strings.TrimRight(root, "/\\"))
			didlContainer(&sb, EncodeObjectID(root), "0", name)
			count++
		}
		sb.WriteString(didlClose)
		return sb.String(), count
	}

	dir, err := DecodeObjectID(objectID)
	if err != nil || !s.cat.IsSafePath(dir) {
		sb.WriteString(didlClose)
		return sb.String(), 0
	}

	listing := s.cat.ScanDir(dir)
	for _, f := range listing.Folders {
		didlContainer(&sb, EncodeObjectID(f.Path), objectID, f.Name)
		count++
	}
	for _, f := range listing.Files {
		didlItem(&sb, s.itemInfo(r, f.Path, objectID))
		count++
	}
	sb.WriteString(didlClose)
	return sb.String(), count
}

// browseMetadata describes a single object instead of its children.
func (s *Service) browseMetadata(r *http.Request, objectID string) (string, int) {
	var sb strings.Builder
	sb.WriteString(didlOpen)

	if objectID == "0" {
		didlContainer(&sb, "0", "-1", s.store.Current().ServerName)
		sb.WriteString(didlClose)
		return sb.String(), 1
	}

	path, err := DecodeObjectID(objectID)
	if err != nil || !s.cat.IsSafePath(path) {
		sb.WriteString(didlClose)
		return sb.String(), 0
	}

	info, err := os.Stat(path)
	if err != nil {
		sb.WriteString(didlClose)
		return sb.String(), 0
	}

	if info.IsDir() {
		didlContainer(&sb, objectID, s.parentID(path), filepath.Base(path))
	} else {
		didlItem(&sb, s.itemInfo(r, path, s.parentID(path)))
	}
	sb.WriteString(didlClose)
	return sb.String(), 1
}

// parentID maps a path's parent directory back to an object id, "0"
// when the path itself is a configured root.
func (s *Service) parentID(path string) string {
	clean := filepath.Clean(path)
	for _, root := range s.store.Current().MediaFolders {
		if filepath.Clean(root) == clean {
			return "0"
		}
	}
	return EncodeObjectID(filepath.Dir(clean))
}

func (s *Service) itemInfo(r *http.Request, path, parentID string) didlItemInfo {
	settings := s.store.Current()
	base := s.baseURL(r)

	transcode := settings.EnableTranscoding && settings.NeedsTranscode(path)
	streamURL := base + "/stream/" + url.PathEscape(path)
	mime := catalog.MIMEType(path)
	if transcode {
		streamURL += "?transcode=true"
		mime = "video/mpeg"
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	thumbURL := ""
	if s.cat.HasThumbnail(path) {
		thumbURL = fmt.Sprintf("%s/static/.thumbnails/%s.jpg", base, catalog.Fingerprint(path))
	}

	name := filepath.Base(path)
	return didlItemInfo{
		ID:        EncodeObjectID(path),
		ParentID:  parentID,
		Title:     strings.TrimSuffix(name, filepath.Ext(name)),
		StreamURL: streamURL,
		ThumbURL:  thumbURL,
		MimeType:  mime,
		Duration:  s.cat.GetDuration(path),
		Size:      size,
		Transcode: transcode,
		Resume:    s.cat.GetPosition(clientIP(r), path),
	}
}

// handleSetBookmark stores a Samsung resume bookmark. PosSecond arrives
// in milliseconds despite its name.
func (s *Service) handleSetBookmark(w http.ResponseWriter, r *http.Request, body string) {
	objectID := extractTag(body, "ObjectID")
	posRaw := extractTag(body, "PosSecond")

	path, err := DecodeObjectID(objectID)
	if err != nil || !s.cat.IsSafePath(path) {
		s.writeSOAP(w, "X_SetBookmark", nil)
		return
	}
	ms, err := strconv.ParseFloat(posRaw, 64)
	if err != nil {
		s.writeSOAP(w, "X_SetBookmark", nil)
		return
	}

	s.cat.SetPosition(clientIP(r), path, ms/1000)
	s.log.Debug().Str("file", filepath.Base(path)).Float64("seconds", ms/1000).Msg("bookmark stored")
	s.writeSOAP(w, "X_SetBookmark", nil)
}

func (s *Service) writeSOAP(w http.ResponseWriter, action string, params map[string]string) {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	sb.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	sb.WriteString(`<s:Body>`)
	fmt.Fprintf(&sb, `<u:%sResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">`, action)
	for _, key := range []string{"Result", "NumberReturned", "TotalMatches", "UpdateID", "Id", "Source", "Sink"} {
		if v, ok := params[key]; ok {
			fmt.Fprintf(&sb, `<%s>%s</%s>`, key, xmlEscape(v), key)
		}
	}
	fmt.Fprintf(&sb, `</u:%sResponse>`, action)
	sb.WriteString(`</s:Body></s:Envelope>`)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Server", ServerBanner)
	w.Write([]byte(sb.String()))
}
