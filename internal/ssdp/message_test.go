package ssdp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTargetsMatching(t *testing.T) {
	t.Run("registrar beats broader matches", func(t *testing.T) {
		got := searchTargets("urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1")
		assert.Equal(t, []string{registrarTarget}, got)
	})
	t.Run("registrar alternate spelling still matches", func(t *testing.T) {
		got := searchTargets("urn:schemas-microsoft-com:service:X_MS_MediaReceiverRegistrar:1")
		assert.Equal(t, []string{registrarTarget}, got)
	})
	t.Run("content directory", func(t *testing.T) {
		got := searchTargets("urn:schemas-upnp-org:service:ContentDirectory:1")
		assert.Equal(t, []string{directoryTarget}, got)
	})
	t.Run("media server device", func(t *testing.T) {
		got := searchTargets("urn:schemas-upnp-org:device:MediaServer:1")
		assert.Equal(t, []string{deviceTarget}, got)
	})
	t.Run("discover answers all three", func(t *testing.T) {
		got := searchTargets("ssdp:discover")
		assert.Equal(t, []string{deviceTarget, directoryTarget, registrarTarget}, got)
	})
	t.Run("ssdp:all answers all three", func(t *testing.T) {
		got := searchTargets("ssdp:all")
		assert.Len(t, got, 3)
	})
	t.Run("unknown targets are ignored", func(t *testing.T) {
		assert.Nil(t, searchTargets("urn:schemas-upnp-org:device:InternetGatewayDevice:1"))
		assert.Nil(t, searchTargets(""))
	})
}

func TestSearchResponseFormat(t *testing.T) {
	resp := string(searchResponse("abcd1234", "http://192.168.1.2:9005/device.xml", deviceTarget))

	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "CACHE-CONTROL: max-age=900\r\n")
	assert.Contains(t, resp, "SERVER: Microsoft-Windows/10.0 UPnP/1.0 WMP/12.0\r\n")
	assert.Contains(t, resp, "LOCATION: http://192.168.1.2:9005/device.xml\r\n")
	assert.Contains(t, resp, "ST: "+deviceTarget+"\r\n")
	assert.Contains(t, resp, "USN: uuid:abcd1234::"+deviceTarget+"\r\n")
	assert.Contains(t, resp, "EXT:\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\n"))

	// The DATE header must parse as RFC 1123.
	for _, line := range strings.Split(resp, "\r\n") {
		if strings.HasPrefix(line, "DATE: ") {
			_, err := time.Parse(time.RFC1123, strings.TrimPrefix(line, "DATE: "))
			assert.NoError(t, err)
			return
		}
	}
	t.Fatal("no DATE header in response")
}

// The registrar lives in the urn:microsoft.com namespace; strict
// clients discard replies whose ST differs from what they searched for.
func TestRegistrarTargetNamespace(t *testing.T) {
	assert.Equal(t, "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1", registrarTarget)

	resp := string(searchResponse("abcd1234", "http://192.168.1.2:9005/device.xml", registrarTarget))
	assert.Contains(t, resp, "ST: urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1\r\n")
	assert.Contains(t, resp, "USN: uuid:abcd1234::urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1\r\n")
}

func TestNotifyMessageFormat(t *testing.T) {
	msg := string(notifyMessage("abcd1234", "http://192.168.1.2:9005/device.xml", directoryTarget, "ssdp:byebye"))

	require.True(t, strings.HasPrefix(msg, "NOTIFY * HTTP/1.1\r\n"))
	assert.Contains(t, msg, "HOST: 239.255.255.250:1900\r\n")
	assert.Contains(t, msg, "NT: "+directoryTarget+"\r\n")
	assert.Contains(t, msg, "NTS: ssdp:byebye\r\n")
	assert.Contains(t, msg, "USN: uuid:abcd1234::"+directoryTarget+"\r\n")
}

func TestExtractHeader(t *testing.T) {
	msg := "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nST: ssdp:all\r\nMX: 2\r\n\r\n"
	assert.Equal(t, "ssdp:all", extractHeader(msg, "ST"))
	assert.Equal(t, "ssdp:all", extractHeader(msg, "st"))
	assert.Equal(t, "2", extractHeader(msg, "MX"))
	assert.Empty(t, extractHeader(msg, "SOAPACTION"))
}

func TestAnnounceTargets(t *testing.T) {
	targets := announceTargets()
	require.Len(t, targets, 3)
	assert.Equal(t, deviceTarget, targets[0])
}

func TestShortTarget(t *testing.T) {
	assert.Equal(t, "MediaServer", shortTarget(deviceTarget))
	assert.Equal(t, "ContentDirectory", shortTarget(directoryTarget))
	assert.Equal(t, "X_MS_MediaReceiverRegistrar", shortTarget(registrarTarget))
}
