package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"
)

// SimpleItem is one Name/Value pair from a notification's Data block. A
// single notification can report several simultaneous detections.
type SimpleItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

// RawNotification is one wsnt:NotificationMessage as pulled off the wire,
// before any camera-model normalization.
type RawNotification struct {
	Topic   string
	UtcTime time.Time
	Items   []SimpleItem
}

// PullPoint is an active pull-point subscription against a camera's events
// service. Not safe for concurrent use; each camera supervisor owns one.
type PullPoint struct {
	client  *Client
	timeout time.Duration
}

// Subscribe creates a pull-point subscription and returns a handle bound to
// the subscription reference address. timeout bounds each PullMessages long
// poll and doubles as the subscription termination time, renewed per pull.
func (c *Client) Subscribe(ctx context.Context, eventsXAddr string, timeout time.Duration) (*PullPoint, error) {
	reqBody := fmt.Sprintf(`<tev:CreatePullPointSubscription xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
		<tev:InitialTerminationTime>%s</tev:InitialTerminationTime>
	</tev:CreatePullPointSubscription>`, isoDuration(2*timeout))

	resp, err := c.forService(eventsXAddr).Do(ctx, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create pullpoint subscription: %w", err)
	}

	var parsed struct {
		Body struct {
			CreatePullPointSubscriptionResponse struct {
				SubscriptionReference struct {
					Address string `xml:"Address"`
				} `xml:"SubscriptionReference"`
			} `xml:"CreatePullPointSubscriptionResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("parse subscription response: %w", err)
	}

	addr := parsed.Body.CreatePullPointSubscriptionResponse.SubscriptionReference.Address
	if addr == "" {
		return nil, fmt.Errorf("subscription response carried no reference address")
	}

	return &PullPoint{
		client:  c.forService(addr),
		timeout: timeout,
	}, nil
}

// Pull long-polls for the next batch of notifications. It blocks up to the
// subscription timeout; an empty slice with nil error means the poll timed
// out with nothing to report, which is the normal idle case.
func (p *PullPoint) Pull(ctx context.Context) ([]RawNotification, error) {
	reqBody := fmt.Sprintf(`<tev:PullMessages xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
		<tev:Timeout>%s</tev:Timeout>
		<tev:MessageLimit>1024</tev:MessageLimit>
	</tev:PullMessages>`, isoDuration(p.timeout))

	// Bound the HTTP round trip a little past the device-side timeout so a
	// wedged device cannot hold the supervisor forever.
	pullCtx, cancel := context.WithTimeout(ctx, p.timeout+10*time.Second)
	defer cancel()

	resp, err := p.client.Do(pullCtx, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			PullMessagesResponse struct {
				NotificationMessage []struct {
					Topic   string `xml:"Topic"`
					Message struct {
						Inner struct {
							UtcTime string `xml:"UtcTime,attr"`
							Data    struct {
								SimpleItem []SimpleItem `xml:"SimpleItem"`
							} `xml:"Data"`
						} `xml:"Message"`
					} `xml:"Message"`
				} `xml:"NotificationMessage"`
			} `xml:"PullMessagesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("parse pull response: %w", err)
	}

	var out []RawNotification
	for _, msg := range parsed.Body.PullMessagesResponse.NotificationMessage {
		at := time.Now()
		if t, err := time.Parse(time.RFC3339, msg.Message.Inner.UtcTime); err == nil {
			at = t
		}
		out = append(out, RawNotification{
			Topic:   msg.Topic,
			UtcTime: at,
			Items:   msg.Message.Inner.Data.SimpleItem,
		})
	}
	return out, nil
}

// Renew extends the subscription's termination time.
func (p *PullPoint) Renew(ctx context.Context) error {
	reqBody := fmt.Sprintf(`<wsnt:Renew xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2">
		<wsnt:TerminationTime>%s</wsnt:TerminationTime>
	</wsnt:Renew>`, isoDuration(2*p.timeout))
	_, err := p.client.Do(ctx, reqBody)
	return err
}

// Unsubscribe tears down the subscription. Best effort on shutdown.
func (p *PullPoint) Unsubscribe(ctx context.Context) error {
	reqBody := `<wsnt:Unsubscribe xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"/>`
	_, err := p.client.Do(ctx, reqBody)
	return err
}

// isoDuration renders a duration as the xsd:duration form ONVIF expects.
func isoDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("PT%dS", secs)
}
