package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Lead is one importable row from the lead database.
type Lead struct {
	PageID      string
	CompanyName string
	Website     string
	SourceURL   string
}

// QueryLeads fetches every row of the lead database, following pagination.
func QueryLeads(ctx context.Context, c Client, dbID string) ([]Lead, error) {
	var leads []Lead

	req := &notionapi.DatabaseQueryRequest{}
	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query leads")
		}

		for _, page := range resp.Results {
			lead := leadFromPage(page)
			if lead.CompanyName == "" {
				continue
			}
			leads = append(leads, lead)
		}

		if !resp.HasMore {
			break
		}
		req = &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
	}

	return leads, nil
}

func leadFromPage(page notionapi.Page) Lead {
	lead := Lead{PageID: page.ID.String()}
	for name, prop := range page.Properties {
		switch p := prop.(type) {
		case *notionapi.TitleProperty:
			lead.CompanyName = richTextPlain(p.Title)
		case *notionapi.URLProperty:
			switch name {
			case "Source", "Source URL":
				lead.SourceURL = p.URL
			default:
				lead.Website = p.URL
			}
		}
	}
	return lead
}

func richTextPlain(rt []notionapi.RichText) string {
	var out string
	for _, t := range rt {
		out += t.PlainText
	}
	return out
}
