package channels

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestMergeAllowLists(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  AllowList
	}{
		{"empty", nil, AllowList{}},
		{"trim and drop blanks", [][]string{{" a ", "", "  "}}, AllowList{"a"}},
		{"dedupe across lists keeps first", [][]string{{"a", "b"}, {"b", "c", "a"}}, AllowList{"a", "b", "c"}},
		{"wildcard kept", [][]string{{"*"}, {"x"}}, AllowList{"*", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeAllowLists(tt.lists...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeAllowLists() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeAllowListsIdempotent(t *testing.T) {
	l := []string{" +15551234567", "a@b.c", "chat_id:42", "a@b.c", ""}
	once := MergeAllowLists(l)
	twice := MergeAllowLists(once, once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge(l, l) = %q, want %q", twice, once)
	}
	if again := MergeAllowLists(once); !reflect.DeepEqual(again, once) {
		t.Errorf("merge(merge(l)) = %q, want %q", again, once)
	}
}

type stubAllowSource struct {
	ids   []string
	err   error
	calls int
}

func (s *stubAllowSource) AllowFrom(_ context.Context, _ string) ([]string, error) {
	s.calls++
	return s.ids, s.err
}

func TestLoadDynamicAllowFromFailureIsEmpty(t *testing.T) {
	src := &stubAllowSource{ids: []string{"x"}, err: errors.New("disk gone")}
	if got := LoadDynamicAllowFrom(context.Background(), src, "imessage", nil); got != nil {
		t.Errorf("LoadDynamicAllowFrom() = %q, want nil on error", got)
	}
	if got := LoadDynamicAllowFrom(context.Background(), nil, "imessage", nil); got != nil {
		t.Errorf("nil source = %q, want nil", got)
	}
}
