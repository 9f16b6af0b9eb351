package upsert

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

func TestQuoteIdent(t *testing.T) {
	tests := map[string]string{
		"select":     `"select"`,
		`weird"name`: `"weird""name"`,
		"a.b":        `"a.b"`,
	}
	for in, want := range tests {
		if got := QuoteIdent(in); got != want {
			t.Errorf("QuoteIdent(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want pgx.Identifier
	}{
		{"users", pgx.Identifier{"users"}},
		{"public.users", pgx.Identifier{"public", "users"}},
		{`"my.schema"."t"`, pgx.Identifier{"my.schema", "t"}},
		{`"say ""hi"""`, pgx.Identifier{`say "hi"`}},
		{"", nil},
		{".", nil},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseIdentifier(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseIdentifier(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
	if got := ParseIdentifier("public.users").Sanitize(); got != `"public"."users"` {
		t.Fatalf("Sanitize = %s", got)
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral(","); got != `','` {
		t.Errorf("quoteLiteral(,) = %s", got)
	}
	if got := quoteLiteral("'"); got != `''''` {
		t.Errorf("quoteLiteral(') = %s", got)
	}
}

func TestTruncateIdent(t *testing.T) {
	if got := truncateIdent("abc", 10); got != "abc" {
		t.Errorf("truncateIdent = %q", got)
	}
	if got := truncateIdent("abcdef", 2); got != "ab" {
		t.Errorf("truncateIdent = %q", got)
	}

	s := strings.Repeat("é", 40) // 80 bytes
	got := truncateIdent(s, 63)
	if len(got) > 63 || !utf8.ValidString(got) {
		t.Fatalf("truncateIdent(80 bytes) = %d bytes, valid=%v", len(got), utf8.ValidString(got))
	}
}
