// Package portmap asks the local internet gateway to forward the
// server port, so renderers on segmented home networks can reach us.
// Everything here is best effort: failures are logged and ignored.
package portmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/logging"
)

const (
	igdSearchTarget = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
	wanIPService    = "urn:schemas-upnp-org:service:WANIPConnection:1"
	searchTimeout   = 3 * time.Second
)

// Mapper discovers an IGD and installs one TCP port mapping.
type Mapper struct {
	client *http.Client
	log    zerolog.Logger
}

func New() *Mapper {
	return &Mapper{
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logging.WithComponent("portmap"),
	}
}

// Forward maps externalPort to internalIP:internalPort on the first
// gateway that answers discovery.
func (m *Mapper) Forward(internalIP string, port int, description string) error {
	location, err := m.discover()
	if err != nil {
		return fmt.Errorf("gateway discovery: %w", err)
	}

	controlURL, err := m.controlURL(location)
	if err != nil {
		return fmt.Errorf("gateway description: %w", err)
	}

	if err := m.addMapping(controlURL, internalIP, port, description); err != nil {
		return fmt.Errorf("add port mapping: %w", err)
	}
	m.log.Info().Int("port", port).Str("gateway", controlURL).Msg("port mapping installed")
	return nil
}

// discover multicasts one M-SEARCH for an IGD and returns the LOCATION
// of the first response.
func (m *Mapper) discover() (string, error) {
	group, err := net.ResolveUDPAddr("udp4", "239.255.255.250:1900")
	if err != nil {
		return "", err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	search := fmt.Sprintf("M-SEARCH * HTTP/1.1\r\n"+
		"HOST: 239.255.255.250:1900\r\n"+
		"MAN: \"ssdp:discover\"\r\n"+
		"MX: 2\r\n"+
		"ST: %s\r\n"+
		"\r\n", igdSearchTarget)
	if _, err := conn.WriteTo([]byte(search), group); err != nil {
		return "", err
	}

	conn.SetReadDeadline(time.Now().Add(searchTimeout))
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return "", fmt.Errorf("no gateway answered: %w", err)
		}
		for _, line := range strings.Split(string(buf[:n]), "\r\n") {
			if strings.HasPrefix(strings.ToUpper(line), "LOCATION:") {
				return strings.TrimSpace(line[len("LOCATION:"):]), nil
			}
		}
	}
}

type igdDescription struct {
	Services []struct {
		ServiceType string `xml:"serviceType"`
		ControlURL  string `xml:"controlURL"`
	} `xml:"device>deviceList>device>deviceList>device>serviceList>service"`
}

// controlURL fetches the gateway description and resolves the
// WANIPConnection control endpoint.
func (m *Mapper) controlURL(location string) (string, error) {
	resp, err := m.client.Get(location)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return "", err
	}

	var desc igdDescription
	if err := xml.Unmarshal(data, &desc); err != nil {
		return "", fmt.Errorf("parse description: %w", err)
	}

	base, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	for _, svc := range desc.Services {
		if svc.ServiceType != wanIPService {
			continue
		}
		ref, err := url.Parse(svc.ControlURL)
		if err != nil {
			continue
		}
		return base.ResolveReference(ref).String(), nil
	}
	return "", fmt.Errorf("gateway exposes no %s", wanIPService)
}

func (m *Mapper) addMapping(controlURL, internalIP string, port int, description string) error {
	body := fmt.Sprintf(`<?xml version="1.0"?>`+
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`+
		`<s:Body><u:AddPortMapping xmlns:u="%s">`+
		`<NewRemoteHost></NewRemoteHost>`+
		`<NewExternalPort>%d</NewExternalPort>`+
		`<NewProtocol>TCP</NewProtocol>`+
		`<NewInternalPort>%d</NewInternalPort>`+
		`<NewInternalClient>%s</NewInternalClient>`+
		`<NewEnabled>1</NewEnabled>`+
		`<NewPortMappingDescription>%s</NewPortMappingDescription>`+
		`<NewLeaseDuration>0</NewLeaseDuration>`+
		`</u:AddPortMapping></s:Body></s:Envelope>`,
		wanIPService, port, port, internalIP, description)

	req, err := http.NewRequest(http.MethodPost, controlURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#AddPortMapping"`, wanIPService))

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
