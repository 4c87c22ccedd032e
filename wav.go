package fsb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WAV format codes
const (
	wavFormatPCM      = 1
	wavFormatIMAADPCM = 0x11
	wavFormatFloat    = 3

	imaSamplesPerBlock = 0x40
)

// wavHeader returns a canonical 44-byte RIFF/WAVE header for interleaved PCM
// or IEEE float data of the given shape.
func wavHeader(dataLen, channels, sampleRate, bitsPerSample int, float bool) []byte {
	format := uint16(wavFormatPCM)
	if float {
		format = wavFormatFloat
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+dataLen))
	copy(header[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], format)
	binary.LittleEndian.PutUint16(header[22:], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:], uint16(bitsPerSample))
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataLen))
	return header
}

// imaWavHeader returns a RIFF/WAVE header with the 20-byte fmt chunk variant
// used for IMA ADPCM passthrough: format code 0x11 with a samples-per-block
// hint of 0x40.
func imaWavHeader(dataLen, channels, sampleRate int) []byte {
	blockAlign := 36 * channels
	byteRate := sampleRate * blockAlign / imaSamplesPerBlock

	header := make([]byte, 48)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(40+dataLen))
	copy(header[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(header[16:], 20)
	binary.LittleEndian.PutUint16(header[20:], wavFormatIMAADPCM)
	binary.LittleEndian.PutUint16(header[22:], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:], 4)
	binary.LittleEndian.PutUint16(header[36:], 2)
	binary.LittleEndian.PutUint16(header[38:], imaSamplesPerBlock)
	copy(header[40:], "data")
	binary.LittleEndian.PutUint32(header[44:], uint32(dataLen))
	return header
}

// wavInfo describes a parsed WAV header.
type wavInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataLength    int
}

// parseWavHeader reads a canonical RIFF/WAVE header with a 16- or 20-byte
// fmt chunk followed directly by the data chunk.
func parseWavHeader(r io.Reader) (wavInfo, error) {
	var head [36]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return wavInfo{}, fmt.Errorf("fsb: failed to read WAV header: %w", err)
	}
	if string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" || string(head[12:16]) != "fmt " {
		return wavInfo{}, fmt.Errorf("fsb: not a RIFF/WAVE file")
	}

	fmtSize := binary.LittleEndian.Uint32(head[16:20])
	info := wavInfo{
		Format:        binary.LittleEndian.Uint16(head[20:22]),
		Channels:      int(binary.LittleEndian.Uint16(head[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(head[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(head[34:36])),
	}

	// Skip any fmt extension, then expect the data chunk
	if fmtSize > 16 {
		if _, err := io.CopyN(io.Discard, r, int64(fmtSize-16)); err != nil {
			return wavInfo{}, fmt.Errorf("fsb: failed to skip fmt extension: %w", err)
		}
	}

	var data [8]byte
	if _, err := io.ReadFull(r, data[:]); err != nil {
		return wavInfo{}, fmt.Errorf("fsb: failed to read data chunk header: %w", err)
	}
	if string(data[0:4]) != "data" {
		return wavInfo{}, fmt.Errorf("fsb: expected data chunk, found %q", data[0:4])
	}
	info.DataLength = int(binary.LittleEndian.Uint32(data[4:8]))
	return info, nil
}
