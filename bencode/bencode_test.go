package bencode

import (
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		content   []byte
		want      *Data
		wantCount int
		wantErr   bool
	}{
		{
			name:    "Empty content",
			content: []byte{},
			want:    nil,
		},
		{
			name:      "Byte string",
			content:   []byte("4:spam"),
			want:      NewData("spam"),
			wantCount: 6,
		},
		{
			name:      "Integer",
			content:   []byte("i42e"),
			want:      NewData(42),
			wantCount: 4,
		},
		{
			name:      "Negative Integer",
			content:   []byte("i-42e"),
			want:      NewData(-42),
			wantCount: 5,
		},
		{
			name:      "List",
			content:   []byte("l4:spam4:eggse"),
			want:      NewData([]any{"spam", "eggs"}),
			wantCount: 14,
		},
		{
			name:      "List within List",
			content:   []byte("l4:spaml1:a1:bee"),
			want:      NewData([]any{"spam", []any{"a", "b"}}),
			wantCount: 16,
		},
		{
			name:      "Dictionary",
			content:   []byte("d3:cow3:moo4:spam4:eggs3:numi42ee"),
			want:      NewData(map[string]any{"cow": "moo", "spam": "eggs", "num": 42}),
			wantCount: 33,
		},
		{
			name:    "Unterminated integer",
			content: []byte("i42"),
			wantErr: true,
		},
		{
			name:    "Unterminated list",
			content: []byte("l4:spam"),
			wantErr: true,
		},
		{
			name:    "String length past end",
			content: []byte("9:ab"),
			wantErr: true,
		},
		{
			name:    "Non-string dictionary key",
			content: []byte("di1e4:spame"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, count, err := Decode(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode() expected an error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() got = %s, want %s", got.String(), tt.want.String())
			}
			if count != tt.wantCount {
				t.Errorf("Decode() consumed %d bytes, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		data Data
		want []byte
	}{
		{
			name: "String",
			data: *NewData("spam"),
			want: []byte("4:spam"),
		},
		{
			name: "Integer",
			data: *NewData(42),
			want: []byte("i42e"),
		},
		{
			name: "List",
			data: *NewData([]*Data{
				NewData("spam"),
				NewData("eggs"),
			}),
			want: []byte("l4:spam4:eggse"),
		},
		{
			name: "Dictionary keys in lexical order",
			data: *NewData(map[string]*Data{
				"spam": NewData("eggs"),
				"cow":  NewData("moo"),
			}),
			want: []byte("d3:cow3:moo4:spam4:eggse"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(&tt.data)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode() got = %s, want %s", string(got), string(tt.want))
			}
		})
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	original := []byte("d8:announce19:http://tracker/a/b/4:infod6:lengthi50000e4:name8:stub.bin12:piece lengthi32768eee")
	data, count, err := Decode(original)
	if err != nil {
		t.Fatal(err)
	}
	if count != len(original) {
		t.Fatalf("consumed %d of %d bytes", count, len(original))
	}
	if got := Encode(data); !reflect.DeepEqual(got, original) {
		t.Errorf("round trip got %s, want %s", got, original)
	}
}
