package upnp

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	didlOpen = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
		`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" ` +
		`xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/" ` +
		`xmlns:sec="http://www.sec.co.kr/">`
	didlClose = `</DIDL-Lite>`

	// protocolInfo for files served as-is. The FLAGS blob advertises
	// range seeking and background transfer, which Samsung and LG
	// renderers insist on before enabling seek.
	directProtocol = "http-get:*:%s:DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"

	// protocolInfo for the MPEG-PS transcode output: converted content,
	// no known length.
	transcodeProtocol = "http-get:*:video/mpeg:DLNA.ORG_OP=01;DLNA.ORG_CI=1"
)

// EncodeObjectID turns an absolute path into a DIDL object id.
func EncodeObjectID(path string) string {
	return base64.StdEncoding.EncodeToString([]byte(path))
}

// DecodeObjectID reverses EncodeObjectID. The root id "0" is handled by
// callers before decoding.
func DecodeObjectID(id string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("decode object id: %w", err)
	}
	return string(raw), nil
}

// FormatDuration renders seconds as the DIDL res duration attribute,
// H:MM:SS with unpadded hours.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// FormatResume renders seconds as HH:MM:SS.mmm for the resumePosition
// attribute.
func FormatResume(seconds float64) string {
	ms := int(seconds*1000 + 0.5)
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000)
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// didlContainer appends one <container> element.
func didlContainer(sb *strings.Builder, id, parentID, title string) {
	fmt.Fprintf(sb, `<container id="%s" parentID="%s" restricted="1" searchable="0">`+
		`<dc:title>%s</dc:title>`+
		`<upnp:class>object.container.storageFolder</upnp:class>`+
		`</container>`,
		xmlEscape(id), xmlEscape(parentID), xmlEscape(title))
}

// didlItemInfo is everything the item builder needs about one video.
type didlItemInfo struct {
	ID        string
	ParentID  string
	Title     string
	StreamURL string
	ThumbURL  string  // empty when no thumbnail is rendered
	MimeType  string
	Duration  float64 // seconds, 0 when unknown
	Size      int64   // bytes, ignored for transcoded items
	Transcode bool
	Resume    float64 // bookmark seconds, emitted when > 1
}

// didlItem appends one <item> element in the shape Samsung-family
// renderers expect: dcmInfo bookmark, albumArtURI, res with
// protocolInfo and optional resumePosition.
func didlItem(sb *strings.Builder, it didlItemInfo) {
	fmt.Fprintf(sb, `<item id="%s" parentID="%s" restricted="1">`,
		xmlEscape(it.ID), xmlEscape(it.ParentID))
	fmt.Fprintf(sb, `<dc:title>%s</dc:title>`, xmlEscape(it.Title))
	sb.WriteString(`<upnp:class>object.item.videoItem</upnp:class>`)

	if it.Resume > 1 {
		fmt.Fprintf(sb, `<sec:dcmInfo>BM=%d</sec:dcmInfo>`, int(it.Resume*1000))
	}
	if it.ThumbURL != "" {
		fmt.Fprintf(sb, `<upnp:albumArtURI dlna:profileID="JPEG_TN">%s</upnp:albumArtURI>`,
			xmlEscape(it.ThumbURL))
	}

	protocol := fmt.Sprintf(directProtocol, it.MimeType)
	if it.Transcode {
		protocol = transcodeProtocol
	}
	fmt.Fprintf(sb, `<res protocolInfo="%s"`, protocol)
	if it.Duration > 0 {
		fmt.Fprintf(sb, ` duration="%s"`, FormatDuration(it.Duration))
	}
	if !it.Transcode && it.Size > 0 {
		fmt.Fprintf(sb, ` size="%d"`, it.Size)
	}
	if it.Resume > 1 {
		fmt.Fprintf(sb, ` resumePosition="%s"`, FormatResume(it.Resume))
	}
	fmt.Fprintf(sb, `>%s</res>`, xmlEscape(it.StreamURL))
	sb.WriteString(`</item>`)
}
