package ssdp

import (
	"fmt"
	"strings"
	"time"
)

const (
	multicastAddr = "239.255.255.250:1900"
	maxAge        = 900

	// Some renderers only talk to servers presenting a Windows Media
	// Player banner, so every discovery response and announcement
	// carries this string.
	ServerBanner = "Microsoft-Windows/10.0 UPnP/1.0 WMP/12.0"

	deviceTarget    = "urn:schemas-upnp-org:device:MediaServer:1"
	directoryTarget = "urn:schemas-upnp-org:service:ContentDirectory:1"
	// The registrar namespace is urn:microsoft.com, not the
	// schemas-upnp-org form; Xbox and WMP request it verbatim.
	registrarTarget = "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1"
)

// searchTargets maps an incoming M-SEARCH ST header to the targets to
// answer with. Order matters: the most specific match wins.
func searchTargets(st string) []string {
	switch {
	case strings.Contains(st, "X_MS_MediaReceiverRegistrar:1"):
		return []string{registrarTarget}
	case strings.Contains(st, "service:ContentDirectory:1"):
		return []string{directoryTarget}
	case strings.Contains(st, "device:MediaServer:1"):
		return []string{deviceTarget}
	case strings.Contains(st, "ssdp:discover"), strings.Contains(st, "ssdp:all"):
		return []string{deviceTarget, directoryTarget, registrarTarget}
	default:
		return nil
	}
}

// searchResponse builds one M-SEARCH reply for a single target.
func searchResponse(uuid, location, target string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"DATE: %s\r\n"+
		"EXT:\r\n"+
		"LOCATION: %s\r\n"+
		"SERVER: %s\r\n"+
		"ST: %s\r\n"+
		"USN: uuid:%s::%s\r\n"+
		"\r\n",
		maxAge, time.Now().UTC().Format(time.RFC1123), location, ServerBanner, target, uuid, target))
}

// notifyMessage builds one NOTIFY packet. nts is "ssdp:alive" or
// "ssdp:byebye".
func notifyMessage(uuid, location, target, nts string) []byte {
	return []byte(fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"LOCATION: %s\r\n"+
		"NT: %s\r\n"+
		"NTS: %s\r\n"+
		"SERVER: %s\r\n"+
		"USN: uuid:%s::%s\r\n"+
		"\r\n",
		multicastAddr, maxAge, location, target, nts, ServerBanner, uuid, target))
}

// announceTargets are the NTs advertised in alive and byebye bursts.
func announceTargets() []string {
	return []string{deviceTarget, directoryTarget, registrarTarget}
}

func extractHeader(msg, header string) string {
	prefix := strings.ToUpper(header) + ":"
	for _, line := range strings.Split(msg, "\r\n") {
		if strings.HasPrefix(strings.ToUpper(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}
