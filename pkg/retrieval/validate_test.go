package retrieval

import (
	"strings"
	"testing"
)

func TestValidateSearchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     SearchRequest
		wantErr bool
	}{
		{name: "Valid_hybrid", req: SearchRequest{Query: "chest pain", Mode: ModeHybrid}},
		{name: "Valid_empty_mode", req: SearchRequest{Query: "chest pain"}},
		{name: "Empty_query", req: SearchRequest{Query: "   "}, wantErr: true},
		{name: "Too_long", req: SearchRequest{Query: strings.Repeat("a", 2001)}, wantErr: true},
		{name: "Bad_mode", req: SearchRequest{Query: "q", Mode: "fuzzy"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSearchRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSearchRequest(%+v) error = %v, wantErr %v", tt.req, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeQuery(t *testing.T) {
	if got := SanitizeQuery("  query\x00 with\x1b junk  "); got != "query with junk" {
		t.Fatalf("SanitizeQuery() = %q", got)
	}
	if got := SanitizeQuery("keeps\ttabs and\nnewlines"); got != "keeps\ttabs and\nnewlines" {
		t.Fatalf("SanitizeQuery() = %q", got)
	}
}
