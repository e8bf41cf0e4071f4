package audio

import (
	"testing"
)

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		input    []byte
		expected []byte
	}{
		{
			name:     "full volume passthrough",
			volume:   1.0,
			input:    []byte{0x00, 0x10, 0xFF, 0x7F},
			expected: []byte{0x00, 0x10, 0xFF, 0x7F},
		},
		{
			name:     "half volume",
			volume:   0.5,
			input:    []byte{0x00, 0x10, 0xFE, 0x7F}, // 4096, 32766
			expected: []byte{0x00, 0x08, 0xFF, 0x3F}, // 2048, 16383
		},
		{
			name:     "zero volume",
			volume:   0.0,
			input:    []byte{0xFF, 0x7F, 0x00, 0x80},
			expected: []byte{0x00, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(tt.input))
			copy(data, tt.input)

			applyVolume(data, tt.volume)

			for i := range data {
				if data[i] != tt.expected[i] {
					t.Errorf("Byte %d: expected %02X, got %02X", i, tt.expected[i], data[i])
				}
			}
		})
	}
}

func TestSetVolumeClamp(t *testing.T) {
	o := &OtoOutput{volume: 1.0}

	o.SetVolume(-0.5)
	if o.volume != 0 {
		t.Errorf("Expected volume 0 for negative input, got %f", o.volume)
	}

	o.SetVolume(1.5)
	if o.volume != 1 {
		t.Errorf("Expected volume 1 for >1 input, got %f", o.volume)
	}

	o.SetVolume(0.75)
	if o.volume != 0.75 {
		t.Errorf("Expected volume 0.75, got %f", o.volume)
	}
}

func TestVolume(t *testing.T) {
	o := &OtoOutput{volume: 0.5}

	if o.Volume() != 0.5 {
		t.Errorf("Expected volume 0.5, got %f", o.Volume())
	}
}

func TestWriteAfterClose(t *testing.T) {
	o := &OtoOutput{closed: true}
	if _, err := o.Write([]byte{0, 0}); err != ErrOutputClosed {
		t.Errorf("Expected ErrOutputClosed, got %v", err)
	}
}
