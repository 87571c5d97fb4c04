package bot

import (
	"reflect"
	"testing"
)

func TestParseGroupCommand(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    *groupCommand
		wantErr bool
	}{
		{
			name: "create",
			text: "/group create fans",
			want: &groupCommand{action: actionCreate, ref: "fans", args: []string{}},
		},
		{
			name: "list takes no ref",
			text: "/group list",
			want: &groupCommand{action: actionList},
		},
		{
			name: "add with explicit user id",
			text: "/group add fans 42",
			want: &groupCommand{action: actionAdd, ref: "fans", args: []string{"42"}},
		},
		{
			name: "set_message keeps all words",
			text: "/group set_message fans welcome to the club",
			want: &groupCommand{action: actionSetMessage, ref: "fans", args: []string{"welcome", "to", "the", "club"}},
		},
		{
			name: "set_chance",
			text: "/group set_chance fans 50",
			want: &groupCommand{action: actionSetChance, ref: "fans", args: []string{"50"}},
		},
		{
			name: "group ref may be an id",
			text: "/group show 7",
			want: &groupCommand{action: actionShow, ref: "7", args: []string{}},
		},
		{
			name:    "no action",
			text:    "/group",
			wantErr: true,
		},
		{
			name:    "unknown action",
			text:    "/group explode fans",
			wantErr: true,
		},
		{
			name:    "missing ref",
			text:    "/group create",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGroupCommand(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
