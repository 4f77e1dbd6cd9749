package resend

import (
	"context"

	"github.com/rotisserie/eris"
)

// FindByKey pages through recent emails looking for one tagged with
// idempotencyKey. It stops after maxPages pages.
func FindByKey(ctx context.Context, c Client, idempotencyKey string, maxPages int) (*EmailSummary, error) {
	if maxPages <= 0 {
		maxPages = 5
	}
	after := ""
	for range maxPages {
		page, err := c.ListEmails(ctx, 100, after)
		if err != nil {
			return nil, eris.Wrapf(err, "resend: find %s", idempotencyKey)
		}
		for i := range page.Data {
			if page.Data[i].Tag(KeyTag) == idempotencyKey {
				return &page.Data[i], nil
			}
		}
		if !page.HasMore || len(page.Data) == 0 {
			return nil, nil
		}
		after = page.Data[len(page.Data)-1].ID
	}
	return nil, nil
}
