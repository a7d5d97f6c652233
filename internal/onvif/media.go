package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
)

// MediaProfile is one entry from trt:GetProfiles. Tapo cameras expose
// profiles named majorStream, minorStream and jpegStream.
type MediaProfile struct {
	Name  string `xml:"Name"`
	Token string `xml:"token,attr"`
}

// GetProfiles lists the media profiles from the media service address.
func (c *Client) GetProfiles(ctx context.Context, mediaXAddr string) ([]MediaProfile, error) {
	reqBody := `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`
	resp, err := c.forService(mediaXAddr).Do(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []MediaProfile `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed.Body.GetProfilesResponse.Profiles, nil
}

// GetStreamURI resolves the RTSP URI for a profile token.
func (c *Client) GetStreamURI(ctx context.Context, mediaXAddr, token string) (string, error) {
	reqBody := fmt.Sprintf(`<trt:GetStreamUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
		<trt:StreamSetup>
			<trt:Stream xmlns:tt="http://www.onvif.org/ver10/schema">tt:RTP-Unicast</trt:Stream>
			<trt:Transport xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Protocol>tt:RTSP</tt:Protocol>
			</trt:Transport>
		</trt:StreamSetup>
		<trt:ProfileToken>%s</trt:ProfileToken>
	</trt:GetStreamUri>`, token)

	resp, err := c.forService(mediaXAddr).Do(ctx, reqBody)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Body struct {
			GetStreamUriResponse struct {
				MediaUri struct {
					Uri string `xml:"Uri"`
				} `xml:"MediaUri"`
			} `xml:"GetStreamUriResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return "", err
	}
	return parsed.Body.GetStreamUriResponse.MediaUri.Uri, nil
}

// ResolveStreamURI looks up a profile by name and returns its RTSP URI with
// credentials injected. An empty string means no profile carried that name.
func (c *Client) ResolveStreamURI(ctx context.Context, mediaXAddr, profileName string) (string, error) {
	profiles, err := c.GetProfiles(ctx, mediaXAddr)
	if err != nil {
		return "", fmt.Errorf("get profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Name != profileName {
			continue
		}
		uri, err := c.GetStreamURI(ctx, mediaXAddr, p.Token)
		if err != nil {
			return "", fmt.Errorf("get stream uri for %s: %w", profileName, err)
		}
		return WithAuthentication(uri, c.username, c.password)
	}
	return "", nil
}
