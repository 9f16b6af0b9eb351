package upsert

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		delim byte
		want  []string
	}{
		{"simple", "id,name,email\n", ',', []string{"id", "name", "email"}},
		{"crlf and spaces", " id , name \r\n", ',', []string{"id", "name"}},
		{"bom", "\xef\xbb\xbfid,name\n", ',', []string{"id", "name"}},
		{"tab", "id\tname\n", '\t', []string{"id", "name"}},
		{"quoted with delimiter", `"a,b",c` + "\n", ',', []string{"a,b", "c"}},
		{"blank", "  \n", ',', nil},
		{"no newline", "id;name", ';', []string{"id", "name"}},
		{"trailing delimiter", "id,data,\n", ',', []string{"id", "data"}},
		{"trailing delimiters and spaces", "id;data; ;\r\n", ';', []string{"id", "data"}},
		{"only delimiters", ",,\n", ',', []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseHeader([]byte(tc.line), tc.delim)
			if err != nil {
				t.Fatalf("parseHeader(%q): %v", tc.line, err)
			}
			if len(got) != len(tc.want) || (len(got) > 0 && !reflect.DeepEqual(got, tc.want)) {
				t.Fatalf("parseHeader(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

// An empty field in the middle still names no column and is rejected.
func TestParseHeader_EmptyInnerFieldIsRejected(t *testing.T) {
	cols, err := parseHeader([]byte("id,,data\n"), ',')
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if err := checkColumns(cols, []string{"id", "data"}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("checkColumns(%q) = %v, want ErrInvalidOptions", cols, err)
	}
}

func TestApplyMap(t *testing.T) {
	m := map[string]string{"cod": "id", "info": "data"}
	tests := []struct {
		cols []string
		m    map[string]string
		want []string
	}{
		{[]string{"cod", "info"}, m, []string{"id", "data"}},
		// Names without a mapping pass through unchanged.
		{[]string{"cod", "extra"}, m, []string{"id", "extra"}},
		{[]string{"a", "b"}, nil, []string{"a", "b"}},
	}
	for _, tc := range tests {
		if got := applyMap(tc.cols, tc.m); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("applyMap(%q) = %q, want %q", tc.cols, got, tc.want)
		}
	}
}

func TestPlanProjection(t *testing.T) {
	p := plan{
		columns:   []string{"name", "id"},
		key:       []string{"id", "tenant"},
		createdAt: "created_at",
		updatedAt: "updated_at",
	}
	if got, want := p.projection(), []string{"name", "id", "tenant", "created_at", "updated_at"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("projection = %q, want %q", got, want)
	}
	if !p.injected() {
		t.Fatalf("injected() = false with timestamp columns set")
	}

	p = plan{columns: []string{"id"}, key: []string{"id"}}
	if got := p.projection(); !reflect.DeepEqual(got, []string{"id"}) {
		t.Fatalf("projection = %q, want [id]", got)
	}
	if p.injected() {
		t.Fatalf("injected() = true without timestamp columns")
	}
}

func TestCheckKey(t *testing.T) {
	if err := checkKey([]string{"a", "b"}, []string{"b", "c", "a"}); err != nil {
		t.Fatalf("checkKey: %v", err)
	}
	if err := checkKey(nil, []string{"a"}); !errors.Is(err, ErrNoUniqueKey) {
		t.Fatalf("checkKey(nil) = %v, want ErrNoUniqueKey", err)
	}

	err := checkKey([]string{"a", "z"}, []string{"a", "b"})
	if !errors.Is(err, ErrMissingKeyColumn) || !strings.Contains(err.Error(), `"z"`) {
		t.Fatalf("checkKey = %v, want ErrMissingKeyColumn naming z", err)
	}
}

func TestCheckColumns(t *testing.T) {
	dest := []string{"id", "name", "select"}
	if err := checkColumns([]string{"select", "id"}, dest); err != nil {
		t.Fatalf("checkColumns: %v", err)
	}
	tests := []struct {
		cols []string
		want error
	}{
		{nil, ErrNoColumns},
		{[]string{"id", "bogus"}, ErrUnknownColumn},
		{[]string{"id", "id"}, ErrInvalidOptions},
		{[]string{"id", ""}, ErrInvalidOptions},
	}
	for _, tc := range tests {
		if err := checkColumns(tc.cols, dest); !errors.Is(err, tc.want) {
			t.Errorf("checkColumns(%q) = %v, want %v", tc.cols, err, tc.want)
		}
	}
}

func TestInjectedColumn(t *testing.T) {
	dest := []string{"id", "created_at", "updated_at"}
	tests := []struct {
		name string
		cols []string
		want string
	}{
		{"created_at", []string{"id"}, "created_at"},
		{"created_at", []string{"id", "created_at"}, ""},
		{"inserted_on", []string{"id"}, ""},
		{"", []string{"id"}, ""},
	}
	for _, tc := range tests {
		if got := injectedColumn(tc.name, tc.cols, dest); got != tc.want {
			t.Errorf("injectedColumn(%q, %q) = %q, want %q", tc.name, tc.cols, got, tc.want)
		}
	}
}
