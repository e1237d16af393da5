package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingHeader_Marshal_Unmarshal_Roundtrip(t *testing.T) {
	h := &RingHeader{
		Magic:      RingMagic,
		Version:    CurrentVersion,
		Seq:        7,
		FileLength: 4096,
		Count:      3,
		Head:       1000,
		Tail:       1040,
		Used:       40,
	}

	data := h.Marshal()
	require.Len(t, data, RingHeaderSize)

	got, err := UnmarshalRingHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.NoError(t, got.Validate())
}

func TestRingHeader_Unmarshal_CorruptedCRC(t *testing.T) {
	data := NewRingHeader(4096).Marshal()
	data[20] ^= 0xFF

	_, err := UnmarshalRingHeader(data)
	assert.ErrorContains(t, err, "CRC mismatch")
}

func TestRingHeader_Unmarshal_Short(t *testing.T) {
	_, err := UnmarshalRingHeader(make([]byte, 10))
	assert.Error(t, err)
}

func TestRingHeader_Validate(t *testing.T) {
	valid := func() *RingHeader {
		return &RingHeader{
			Magic:      RingMagic,
			Version:    CurrentVersion,
			FileLength: 1024,
			Count:      2,
			Head:       200,
			Tail:       230,
			Used:       30,
		}
	}

	tests := []struct {
		name    string
		mutate  func(h *RingHeader)
		wantErr string
	}{
		{name: "valid", mutate: func(*RingHeader) {}},
		{name: "empty ring", mutate: func(h *RingHeader) { h.Count, h.Used, h.Tail = 0, 0, 200 }},
		{name: "bad magic", mutate: func(h *RingHeader) { h.Magic = 1 }, wantErr: "magic"},
		{name: "zero version", mutate: func(h *RingHeader) { h.Version = 0 }, wantErr: "version"},
		{name: "future version", mutate: func(h *RingHeader) { h.Version = CurrentVersion + 1 }, wantErr: "unsupported"},
		{name: "no ring region", mutate: func(h *RingHeader) { h.FileLength = RingDataStart }, wantErr: "no ring region"},
		{name: "head in header", mutate: func(h *RingHeader) { h.Head = 10 }, wantErr: "head"},
		{name: "tail past end", mutate: func(h *RingHeader) { h.Tail = 1024 }, wantErr: "tail"},
		{name: "used over capacity", mutate: func(h *RingHeader) { h.Used = 2000 }, wantErr: "capacity"},
		{name: "count without bytes", mutate: func(h *RingHeader) { h.Used, h.Tail = 0, 200 }, wantErr: "inconsistent"},
		{name: "too many records", mutate: func(h *RingHeader) { h.Count = 10 }, wantErr: "cannot fit"},
		{name: "tail mismatch", mutate: func(h *RingHeader) { h.Tail = 231 }, wantErr: "does not match"},
		{
			name: "wrapped ring",
			mutate: func(h *RingHeader) {
				h.Head = 1000
				h.Used = 60
				h.Tail = RingDataStart + 36
			},
		},
		{
			name: "full ring",
			mutate: func(h *RingHeader) {
				h.Used = h.Capacity()
				h.Count = 4
				h.Tail = h.Head
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := valid()
			tt.mutate(h)
			err := h.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRingHeader_Wrap(t *testing.T) {
	h := NewRingHeader(1024)

	assert.Equal(t, uint64(500), h.Wrap(500))
	assert.Equal(t, uint64(RingDataStart), h.Wrap(1024))
	assert.Equal(t, uint64(RingDataStart+10), h.Wrap(1034))
	assert.Equal(t, uint64(1024-RingDataStart), h.Capacity())
	assert.Equal(t, h.Capacity(), h.Free())
}

func TestSelectRingHeader(t *testing.T) {
	older := NewRingHeader(4096)
	older.Seq = 4
	newer := NewRingHeader(4096)
	newer.Seq = 5
	newer.Count, newer.Used, newer.Tail = 1, 12, RingDataStart+12

	region := make([]byte, RingDataStart)
	copy(region[SlotOffset(older.Slot()):], older.Marshal())
	copy(region[SlotOffset(newer.Slot()):], newer.Marshal())

	t.Run("highest sequence wins", func(t *testing.T) {
		got, err := SelectRingHeader(region)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.Seq)
		assert.Equal(t, uint64(1), got.Count)
	})

	t.Run("torn newest slot falls back", func(t *testing.T) {
		torn := bytes.Clone(region)
		torn[SlotOffset(newer.Slot())+30] ^= 0x01

		got, err := SelectRingHeader(torn)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got.Seq)
		assert.Equal(t, uint64(0), got.Count)
	})

	t.Run("header in wrong slot rejected", func(t *testing.T) {
		swapped := make([]byte, RingDataStart)
		copy(swapped[SlotOffset(0):], newer.Marshal()) // seq 5 belongs in slot 1

		_, err := SelectRingHeader(swapped)
		assert.ErrorContains(t, err, "no valid ring header")
	})

	t.Run("no valid slot", func(t *testing.T) {
		_, err := SelectRingHeader(make([]byte, RingDataStart))
		assert.ErrorContains(t, err, "no valid ring header")
	})

	t.Run("truncated region", func(t *testing.T) {
		got, err := SelectRingHeader(region[:RingHeaderSize])
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got.Seq)
	})
}

func TestFrame_Roundtrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"small", []byte("hello, world!")},
		{"large", bytes.Repeat([]byte("x"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := MarshalFrame(tt.payload)
			require.Len(t, frame, int(FrameSize(len(tt.payload))))
			assert.Equal(t, uint32(len(tt.payload)), FramePayloadLength(frame))

			got, err := UnmarshalFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(got))
			assert.True(t, bytes.Equal(tt.payload, got))
		})
	}
}

func TestFrame_Corruption(t *testing.T) {
	frame := MarshalFrame([]byte("payload"))

	flipped := bytes.Clone(frame)
	flipped[6] ^= 0xFF
	_, err := UnmarshalFrame(flipped)
	assert.ErrorContains(t, err, "CRC mismatch")

	_, err = UnmarshalFrame(frame[:len(frame)-1])
	assert.ErrorContains(t, err, "length mismatch")

	_, err = UnmarshalFrame(frame[:3])
	assert.ErrorContains(t, err, "too short")
}
