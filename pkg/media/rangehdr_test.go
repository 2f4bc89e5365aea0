package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		size    uint64
		want    *ByteRange
		wantErr bool
	}{
		{name: "absent", header: "", size: 1000},
		{name: "closed", header: "bytes=500-599", size: 1000, want: &ByteRange{500, 599}},
		{name: "open ended", header: "bytes=500-", size: 1000, want: &ByteRange{500, 999}},
		{name: "first byte", header: "bytes=0-0", size: 1000, want: &ByteRange{0, 0}},
		{name: "last byte", header: "bytes=999-999", size: 1000, want: &ByteRange{999, 999}},
		{name: "whole file", header: "bytes=0-", size: 1000, want: &ByteRange{0, 999}},
		{name: "surrounding spaces", header: "  bytes=1-2 ", size: 10, want: &ByteRange{1, 2}},
		{name: "multi range uses first", header: "bytes=0-1,5-6", size: 10, want: &ByteRange{0, 1}},
		{name: "not numeric", header: "bytes=abc", size: 1000},
		{name: "suffix range", header: "bytes=-500", size: 1000},
		{name: "other unit", header: "items=0-5", size: 1000},
		{name: "start past end of file", header: "bytes=1000-", size: 1000, wantErr: true},
		{name: "end past end of file", header: "bytes=0-1000", size: 1000, wantErr: true},
		{name: "empty file", header: "bytes=0-", size: 0, wantErr: true},
		{name: "overflowing start", header: "bytes=99999999999999999999999-", size: 1000, wantErr: true},
		{name: "overflowing end", header: "bytes=0-99999999999999999999999", size: 1000, wantErr: true},
		{name: "inverted is not checked", header: "bytes=600-500", size: 1000, want: &ByteRange{600, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadRange)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteRange(t *testing.T) {
	r := ByteRange{Start: 500, End: 599}
	assert.Equal(t, uint64(100), r.Len())
	assert.True(t, r.Valid(1000))
	assert.False(t, r.Valid(599))
	assert.Equal(t, "bytes 500-599/1000", r.ContentRange(1000))

	assert.False(t, ByteRange{Start: 6, End: 5}.Valid(10))
}
