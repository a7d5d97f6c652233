package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
)

// DeviceInformation mirrors the tds:GetDeviceInformation response.
type DeviceInformation struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// GetDeviceInformation fetches manufacturer/model details. The model string
// feeds the notification normalizer's per-model quirk table.
func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	reqBody := `<tds:GetDeviceInformation xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`
	resp, err := c.Do(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			GetDeviceInformationResponse DeviceInformation `xml:"GetDeviceInformationResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}
	return &parsed.Body.GetDeviceInformationResponse, nil
}

// Capabilities carries the per-category service addresses the monitor uses.
type Capabilities struct {
	MediaXAddr  string
	EventsXAddr string
}

// GetCapabilities resolves the media and events service addresses.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	reqBody := `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Category>All</tds:Category>
	</tds:GetCapabilities>`

	resp, err := c.Do(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			GetCapabilitiesResponse struct {
				Capabilities struct {
					Media struct {
						XAddr string `xml:"XAddr"`
					} `xml:"Media"`
					Events struct {
						XAddr string `xml:"XAddr"`
					} `xml:"Events"`
				} `xml:"Capabilities"`
			} `xml:"GetCapabilitiesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}

	caps := &Capabilities{
		MediaXAddr:  parsed.Body.GetCapabilitiesResponse.Capabilities.Media.XAddr,
		EventsXAddr: parsed.Body.GetCapabilitiesResponse.Capabilities.Events.XAddr,
	}
	if caps.EventsXAddr == "" {
		return caps, fmt.Errorf("device does not advertise an events service")
	}
	return caps, nil
}

// WithAuthentication injects username:password into an RTSP URI. Tapo
// firmware returns credential-free URIs from GetStreamUri.
func WithAuthentication(rtspURI, username, password string) (string, error) {
	u, err := url.Parse(rtspURI)
	if err != nil {
		return "", fmt.Errorf("parse stream uri: %w", err)
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
