// Package pubmed provides a client for the NCBI E-utilities API, used as an
// opaque paginated search-and-fetch service. Zero results is a normal
// outcome, not an error.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"

	"github.com/medassist-ai/medassist/pkg/util"
)

const abstractLimit = 500

// Client talks to the NCBI E-utilities endpoints. Requests are paced to
// stay under the NCBI anonymous rate limit (3 requests per second).
type Client struct {
	baseURL    string
	email      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config holds configuration for the PubMed client
type Config struct {
	BaseURL string
	Email   string // Contact email, requested by NCBI usage policy
}

// NewClient creates a new PubMed client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}

	return &Client{
		baseURL: cfg.BaseURL,
		email:   cfg.Email,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(3), 1),
	}
}

// Paper is one structured literature record
type Paper struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Authors  string `json:"authors"`
	Date     string `json:"date"`
	PMID     string `json:"pmid"`
	URL      string `json:"url"`
}

// searchParams is the esearch query string, encoded with go-querystring
type searchParams struct {
	DB      string `url:"db"`
	Term    string `url:"term"`
	RetMax  int    `url:"retmax"`
	RetMode string `url:"retmode"`
	Sort    string `url:"sort"`
	RelDate int    `url:"reldate,omitempty"`
	Email   string `url:"email,omitempty"`
}

type fetchParams struct {
	DB      string `url:"db"`
	ID      string `url:"id"`
	RetType string `url:"rettype"`
	RetMode string `url:"retmode"`
	Email   string `url:"email,omitempty"`
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search returns up to maxResults PMIDs for the term, restricted to the
// last recencyDays days, sorted by relevance. An empty ID list means
// "searched, found nothing".
func (c *Client) Search(ctx context.Context, term string, maxResults, recencyDays int) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := searchParams{
		DB:      "pubmed",
		Term:    term,
		RetMax:  maxResults,
		RetMode: "json",
		Sort:    "relevance",
		RelDate: recencyDays,
		Email:   c.email,
	}
	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encoding search params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/esearch.fcgi?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PubMed search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PubMed search returned status %d", resp.StatusCode)
	}

	var result esearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return result.ESearchResult.IDList, nil
}

// efetch XML layout, reduced to the fields we extract
type pubmedArticleSet struct {
	Articles []struct {
		MedlineCitation struct {
			PMID    string `xml:"PMID"`
			Article struct {
				ArticleTitle string `xml:"ArticleTitle"`
				Abstract     struct {
					AbstractText []string `xml:"AbstractText"`
				} `xml:"Abstract"`
				AuthorList struct {
					Authors []struct {
						LastName string `xml:"LastName"`
						Initials string `xml:"Initials"`
					} `xml:"Author"`
				} `xml:"AuthorList"`
				Journal struct {
					JournalIssue struct {
						PubDate struct {
							Year  string `xml:"Year"`
							Month string `xml:"Month"`
						} `xml:"PubDate"`
					} `xml:"JournalIssue"`
				} `xml:"Journal"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
	} `xml:"PubmedArticle"`
}

// Fetch retrieves structured records for the given PMIDs. The service may
// return fewer records than requested; that is not an error.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]Paper, error) {
	if len(ids) == 0 {
		return []Paper{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := fetchParams{
		DB:      "pubmed",
		ID:      strings.Join(ids, ","),
		RetType: "abstract",
		RetMode: "xml",
		Email:   c.email,
	}
	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encoding fetch params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/efetch.fcgi?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PubMed fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PubMed fetch returned status %d", resp.StatusCode)
	}

	var articleSet pubmedArticleSet
	if err := xml.NewDecoder(resp.Body).Decode(&articleSet); err != nil {
		return nil, fmt.Errorf("decoding fetch response: %w", err)
	}

	papers := make([]Paper, 0, len(articleSet.Articles))
	for _, article := range articleSet.Articles {
		citation := article.MedlineCitation
		a := citation.Article

		abstract := util.TruncateExact(strings.Join(a.Abstract.AbstractText, " "), abstractLimit)

		// First three authors
		var authors []string
		for i, author := range a.AuthorList.Authors {
			if i >= 3 {
				break
			}
			if author.LastName != "" && author.Initials != "" {
				authors = append(authors, author.LastName+" "+author.Initials)
			}
		}
		authorStr := "Unknown"
		if len(authors) > 0 {
			authorStr = strings.Join(authors, ", ")
		}

		pubDate := strings.TrimSpace(a.Journal.JournalIssue.PubDate.Month + " " + a.Journal.JournalIssue.PubDate.Year)

		title := a.ArticleTitle
		if title == "" {
			title = "No title"
		}

		papers = append(papers, Paper{
			Title:    title,
			Abstract: abstract,
			Authors:  authorStr,
			Date:     pubDate,
			PMID:     citation.PMID,
			URL:      fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", citation.PMID),
		})
	}

	return papers, nil
}
