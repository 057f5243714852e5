package kfat

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestEntryHeader_FileInfo(t *testing.T) {
	h := EntryHeader{
		Name:            [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'},
		Attribute:       AttrArchive,
		CreateTimeTenth: 1,
		CreateTime:      2,
		CreateDate:      3,
		LastAccessDate:  4,
		WriteTime:       6,
		WriteDate:       7,
		FirstClusterLO:  8,
		FileSize:        9,
	}
	want := entryHeaderFileInfo{entry: h}

	if got := h.FileInfo(); !reflect.DeepEqual(got, want) {
		t.Errorf("EntryHeader.FileInfo() = %v, want %v", got, want)
	}
	if got := h.FileInfo().Sys(); !reflect.DeepEqual(got, h) {
		t.Errorf("entryHeaderFileInfo.Sys() = %v, want %v", got, h)
	}
}

func Test_entryHeaderFileInfo_Name(t *testing.T) {
	tests := []struct {
		name  string
		entry EntryHeader
		want  string
	}{
		{
			name:  "8.3 filename",
			entry: EntryHeader{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}},
			want:  "HELLO.TXT",
		},
		{
			name:  "short extension",
			entry: EntryHeader{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', ' '}},
			want:  "HELLO.TX",
		},
		{
			name:  "no extension",
			entry: EntryHeader{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', ' ', ' ', ' '}},
			want:  "HELLO",
		},
		{
			name:  "full length",
			entry: EntryHeader{Name: [11]byte{'K', 'E', 'R', 'N', 'E', 'L', '3', '2', 'B', 'I', 'N'}},
			want:  "KERNEL32.BIN",
		},
		{
			name:  "name starting with 0xE5",
			entry: EntryHeader{Name: [11]byte{0x05, 'A', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}},
			want:  "\xe5A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryHeaderFileInfo{entry: tt.entry}
			if got := e.Name(); got != tt.want {
				t.Errorf("entryHeaderFileInfo.Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_entryHeaderFileInfo_Size(t *testing.T) {
	tests := []struct {
		name  string
		entry EntryHeader
		want  int64
	}{
		{name: "some size", entry: EntryHeader{FileSize: 5555}, want: 5555},
		{name: "zero size", entry: EntryHeader{FileSize: 0}, want: 0},
		{name: "largest size", entry: EntryHeader{FileSize: 0xFFFFFFFF}, want: 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryHeaderFileInfo{entry: tt.entry}
			if got := e.Size(); got != tt.want {
				t.Errorf("entryHeaderFileInfo.Size() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entryHeaderFileInfo_Mode(t *testing.T) {
	tests := []struct {
		name      string
		entry     EntryHeader
		want      os.FileMode
		wantIsDir bool
	}{
		{
			name:  "file",
			entry: EntryHeader{Attribute: AttrArchive},
			want:  0444,
		},
		{
			name:  "read only file",
			entry: EntryHeader{Attribute: AttrReadOnly},
			want:  0444,
		},
		{
			name:      "directory",
			entry:     EntryHeader{Attribute: AttrDirectory},
			want:      os.ModeDir | 0555,
			wantIsDir: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryHeaderFileInfo{entry: tt.entry}
			if got := e.Mode(); got != tt.want {
				t.Errorf("entryHeaderFileInfo.Mode() = %v, want %v", got, tt.want)
			}
			if got := e.IsDir(); got != tt.wantIsDir {
				t.Errorf("entryHeaderFileInfo.IsDir() = %v, want %v", got, tt.wantIsDir)
			}
		})
	}
}

func Test_entryHeaderFileInfo_ModTime(t *testing.T) {
	tests := []struct {
		name  string
		entry EntryHeader
		want  time.Time
	}{
		{
			name: "valid date and time",
			// 2025-01-01 13:33:30
			entry: EntryHeader{WriteDate: 0x5A21, WriteTime: 0x6C2F},
			want:  time.Date(2025, 1, 1, 13, 33, 30, 0, time.UTC),
		},
		{
			name:  "midnight",
			entry: EntryHeader{WriteDate: 0x5A21, WriteTime: 0},
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "invalid date",
			entry: EntryHeader{WriteDate: 0, WriteTime: 0x6C2F},
			want:  time.Time{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryHeaderFileInfo{entry: tt.entry}
			if got := e.ModTime(); !got.Equal(tt.want) {
				t.Errorf("entryHeaderFileInfo.ModTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input uint16
		want  time.Time
	}{
		{name: "epoch", input: 0x0021, want: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "last day", input: 0xFF9F, want: time.Date(2107, 12, 31, 0, 0, 0, 0, time.UTC)},
		{name: "day zero", input: 0x0020, want: time.Time{}},
		{name: "month zero", input: 0x0001, want: time.Time{}},
		{name: "month 13 rolls over", input: 0x01A1, want: time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDate(tt.input); !got.Equal(tt.want) {
				t.Errorf("ParseDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input uint16
		want  time.Time
	}{
		{name: "midnight", input: 0, want: time.Time{}},
		{name: "last valid", input: 0xBF7D, want: time.Date(1, 1, 1, 23, 59, 58, 0, time.UTC)},
		{name: "hour out of range", input: 0xF800, want: time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)},
		{name: "minute out of range", input: 0x07E0, want: time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)},
		{name: "seconds out of range", input: 0x001F, want: time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)},
		{name: "seconds and minute out of range", input: 0x07FF, want: time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTime(tt.input); !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDateTime(t *testing.T) {
	tests := []struct {
		name  string
		date  uint16
		clock uint16
		want  time.Time
	}{
		{name: "both valid", date: 0x5A21, clock: 0x6C2F, want: time.Date(2025, 1, 1, 13, 33, 30, 0, time.UTC)},
		{name: "invalid date", date: 0x0020, clock: 0x6C2F, want: time.Time{}},
		{name: "clamped time", date: 0x0021, clock: 0x07E0, want: time.Date(1980, 1, 1, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DateTime(tt.date, tt.clock); !got.Equal(tt.want) {
				t.Errorf("DateTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShortName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "test.txt", want: "TEST    TXT"},
		{name: "TEST.TXT", want: "TEST    TXT"},
		{name: "Makefile", want: "MAKEFILE   "},
		{name: "verylongname.text", want: "VERYLONGTEX"},
		{name: "a.b.c", want: "A       B.C"},
		{name: ".hidden", want: "        HID"},
		{name: "", want: "           "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShortName(tt.name)
			if string(got[:]) != tt.want {
				t.Errorf("ShortName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
