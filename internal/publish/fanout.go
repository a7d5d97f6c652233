package publish

import "errors"

// Fanout delivers each event to every downstream publisher. Delivery is
// best-effort per sink; errors are joined rather than short-circuiting so a
// broken broker does not starve the live feed.
type Fanout []Publisher

func (f Fanout) Publish(evt Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
