package flag

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"destalinator/internal/model"
)

type stubResolver struct{}

func (stubResolver) ResolveChannelMention(idOrName string) string {
	names := map[string]string{"C1": "general", "C2": "outbox"}
	s := strings.TrimPrefix(idOrName, "#")
	if n, ok := names[s]; ok {
		return "#" + n
	}
	return "#" + s
}

func (stubResolver) ResolveUserMention(id string) string {
	return "@" + strings.TrimPrefix(id, "@") + "-name"
}

func silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		want      Command
		wantErr   error
		wantParse bool
	}{
		{
			name: "full rule",
			text: "flag content rule R1 >=2 :floppy_disk: <#C1|general>",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R1", Threshold: 2, Comparator: model.CmpGreaterEqual, Emoji: "floppy_disk", Destination: "general",
			}},
		},
		{
			name: "default comparator",
			text: "flag content rule R2 5 eyes <#C2>",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R2", Threshold: 5, Comparator: model.CmpGreaterEqual, Emoji: "eyes", Destination: "outbox",
			}},
		},
		{
			name: "escaped comparator",
			text: "flag content rule R3 &gt;3 :eyes: <#C2|outbox>",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R3", Threshold: 3, Comparator: model.CmpGreater, Emoji: "eyes", Destination: "outbox",
			}},
		},
		{
			name: "label ignored in favour of id",
			text: "flag content rule R4 ==1 :tada: <#C1|renamed>",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R4", Threshold: 1, Comparator: model.CmpEqual, Emoji: "tada", Destination: "general",
			}},
		},
		{
			name: "plain channel name",
			text: "flag content rule R5 &lt;=9 :x: misc",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R5", Threshold: 9, Comparator: model.CmpLessEqual, Emoji: "x", Destination: "misc",
			}},
		},
		{
			name: "user destination",
			text: "flag content rule R6 2 :x: <@U7>",
			want: Command{Op: OpAdd, Rule: model.FlagRule{
				ID: "R6", Threshold: 2, Comparator: model.CmpGreaterEqual, Emoji: "x", Destination: "@U7-name",
			}},
		},
		{
			name: "delete",
			text: "flag content rule R1 delete",
			want: Command{Op: OpDelete, Rule: model.FlagRule{ID: "R1"}},
		},
		{name: "chatter", text: "hello there", wantErr: ErrNotRule},
		{name: "empty", text: "", wantErr: ErrNotRule},
		{name: "different prefix", text: "flag content rules R1 2 x y", wantErr: ErrNotRule},
		{name: "too few tokens", text: "flag content rule R1", wantParse: true},
		{name: "five tokens not delete", text: "flag content rule R1 >2", wantParse: true},
		{name: "missing destination", text: "flag content rule R1 >2 :x:", wantParse: true},
		{name: "bad comparator", text: "flag content rule R1 =>2 :x: <#C1>", wantParse: true},
		{name: "no number", text: "flag content rule R1 many :x: <#C1>", wantParse: true},
		{name: "empty emoji", text: "flag content rule R1 2 :: <#C1>", wantParse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.text, stubResolver{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if tt.wantParse {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected ParseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		token   string
		wantCmp model.Comparator
		wantVal int
		wantErr bool
	}{
		{token: "3", wantCmp: model.CmpGreaterEqual, wantVal: 3},
		{token: ">3", wantCmp: model.CmpGreater, wantVal: 3},
		{token: "<10", wantCmp: model.CmpLess, wantVal: 10},
		{token: "==0", wantCmp: model.CmpEqual, wantVal: 0},
		{token: "&gt;=4", wantCmp: model.CmpGreaterEqual, wantVal: 4},
		{token: "&lt;2", wantCmp: model.CmpLess, wantVal: 2},
		{token: "!=2", wantErr: true},
		{token: ">", wantErr: true},
		{token: "3x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			gotCmp, gotVal, err := ParseThreshold(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantCmp, gotCmp); diff != "" {
				t.Errorf("comparator mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantVal, gotVal); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func control(texts ...string) []model.Message {
	msgs := make([]model.Message, len(texts))
	for i, t := range texts {
		msgs[i] = model.Message{Text: t}
	}
	return msgs
}

func TestReplay(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantIDs []string
	}{
		{
			name: "delete round trip",
			texts: []string{
				"flag content rule R1 >=2 :floppy_disk: <#C1|general>",
				"flag content rule R1 delete",
			},
			wantIDs: nil,
		},
		{
			name: "redefinition keeps position",
			texts: []string{
				"flag content rule A 1 :x: <#C1>",
				"flag content rule B 1 :y: <#C1>",
				"flag content rule A 5 :z: <#C2>",
			},
			wantIDs: []string{"A", "B"},
		},
		{
			name: "malformed lines do not stop replay",
			texts: []string{
				"flag content rule",
				"flag content rule bad =>2 :x: <#C1>",
				"random chatter",
				"flag content rule good 2 :x: <#C1>",
			},
			wantIDs: []string{"good"},
		},
		{
			name: "delete unknown is harmless",
			texts: []string{
				"flag content rule ghost delete",
				"flag content rule R1 2 :x: <#C1>",
			},
			wantIDs: []string{"R1"},
		},
		{
			name: "define after delete",
			texts: []string{
				"flag content rule R1 2 :x: <#C1>",
				"flag content rule R1 delete",
				"flag content rule R1 3 :y: <#C2>",
			},
			wantIDs: []string{"R1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := Replay(control(tt.texts...), stubResolver{}, silent())
			var ids []string
			for _, r := range rules.Rules() {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("rule ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(len(tt.wantIDs), rules.Len()); diff != "" {
				t.Errorf("Len() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReplayLogsMalformed(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	Replay(control("flag content rule R1 >2"), stubResolver{}, log)
	if !strings.Contains(buf.String(), "skipping control message") {
		t.Errorf("expected warning for malformed rule, got:\n%s", buf.String())
	}
}

func TestReplayKeepsLatestDefinition(t *testing.T) {
	rules := Replay(control(
		"flag content rule A 1 :x: <#C1>",
		"flag content rule A 5 :z: <#C2>",
	), stubResolver{}, silent())
	got, ok := rules.Get("A")
	if !ok {
		t.Fatal("rule A missing")
	}
	want := model.FlagRule{ID: "A", Threshold: 5, Comparator: model.CmpGreaterEqual, Emoji: "z", Destination: "outbox"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rule mismatch (-want +got):\n%s", diff)
	}
}

func TestNewEquivalence(t *testing.T) {
	eq := NewEquivalence(map[string]string{
		"floppy":      "alias:floppy_disk",
		"disk":        "alias:floppy_disk",
		"party":       "https://example.com/party.gif",
		"self":        "alias:self",
		"broken":      "alias:",
		"parrot_fast": "alias:parrot",
	})

	want := Equivalence{
		"floppy":      {"floppy_disk"},
		"disk":        {"floppy_disk"},
		"floppy_disk": {"disk", "floppy"},
		"parrot_fast": {"parrot"},
		"parrot":      {"parrot_fast"},
	}
	if diff := cmp.Diff(want, eq); diff != "" {
		t.Errorf("equivalence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"floppy_disk", "floppy"}, eq.Class("floppy")); diff != "" {
		t.Errorf("Class() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"eyes"}, eq.Class("eyes")); diff != "" {
		t.Errorf("Class() of plain emoji mismatch (-want +got):\n%s", diff)
	}
}

func TestDestinations(t *testing.T) {
	rules := Replay(control(
		"flag content rule abc >3 :eyes: <#C2|outbox>",
		"flag content rule save >=2 :floppy_disk: <#C1|general>",
		"flag content rule dup 1 :floppy_disk: <#C1>",
		"flag content rule few <2 :thumbsdown: <#C2>",
	), stubResolver{}, silent())
	eq := NewEquivalence(map[string]string{"floppy": "alias:floppy_disk"})

	tests := []struct {
		name      string
		reactions []model.Reaction
		want      []string
	}{
		{name: "four eyes", reactions: []model.Reaction{{Name: "eyes", Count: 4}}, want: []string{"outbox"}},
		{name: "three eyes is not strictly more", reactions: []model.Reaction{{Name: "eyes", Count: 3}}},
		{name: "no reactions"},
		{name: "unrelated reaction", reactions: []model.Reaction{{Name: "tada", Count: 50}}},
		{
			name:      "aliases are summed",
			reactions: []model.Reaction{{Name: "floppy", Count: 1}, {Name: "floppy_disk", Count: 1}},
			want:      []string{"general"},
		},
		{
			name:      "alias alone reaches threshold",
			reactions: []model.Reaction{{Name: "floppy", Count: 2}},
			want:      []string{"general"},
		},
		{
			name:      "multiple destinations in rule order",
			reactions: []model.Reaction{{Name: "floppy_disk", Count: 2}, {Name: "eyes", Count: 9}},
			want:      []string{"outbox", "general"},
		},
		{
			name:      "less-than rule needs a reaction",
			reactions: []model.Reaction{{Name: "thumbsdown", Count: 1}},
			want:      []string{"outbox"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := model.Message{Text: "interesting", Reactions: tt.reactions}
			if diff := cmp.Diff(tt.want, rules.Destinations(msg, eq)); diff != "" {
				t.Errorf("Destinations() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchReturnsRules(t *testing.T) {
	rules := Replay(control(
		"flag content rule one 1 :x: <#C1>",
		"flag content rule two 1 :x: <#C1>",
	), stubResolver{}, silent())
	got := rules.Match(model.Message{Reactions: []model.Reaction{{Name: "x", Count: 1}}}, Equivalence{})
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"one", "two"}, ids); diff != "" {
		t.Errorf("Match() mismatch (-want +got):\n%s", diff)
	}
}
