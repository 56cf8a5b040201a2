package compress

// DefaultMinSize is the raw output size below which blobs are stored
// uncompressed. Short outputs (a failed nikto run, an empty nuclei result)
// gain nothing from a frame header.
const DefaultMinSize = 512

// Codec picks an encoding per blob and decodes any stored blob.
type Codec struct {
	// MinSize is the smallest input that is compressed.
	MinSize int

	zstd *Compressor
	gzip *Compressor
}

// NewCodec creates a codec that ZSTD-compresses inputs of at least minSize
// bytes.
func NewCodec(minSize int) *Codec {
	return &Codec{
		MinSize: minSize,
		zstd:    NewCompressor(AlgorithmZSTD, LevelDefault),
		gzip:    NewCompressor(AlgorithmGzip, LevelDefault),
	}
}

// Encode returns the blob to store and the algorithm that produced it.
// Inputs below MinSize, and inputs that do not shrink, are stored as is.
func (c *Codec) Encode(data []byte) ([]byte, Algorithm, error) {
	if len(data) < c.MinSize {
		return data, AlgorithmNone, nil
	}
	out, err := c.zstd.Compress(data)
	if err != nil {
		return nil, "", err
	}
	if len(out) >= len(data) {
		return data, AlgorithmNone, nil
	}
	return out, AlgorithmZSTD, nil
}

// Decode reverses Encode for a blob stored with algo.
func (c *Codec) Decode(blob []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmZSTD:
		return c.zstd.Decompress(blob)
	case AlgorithmGzip:
		return c.gzip.Decompress(blob)
	default:
		if _, err := ParseAlgorithm(string(algo)); err != nil {
			return nil, err
		}
		return blob, nil
	}
}

// Stats describes one encoded blob.
type Stats struct {
	OriginalSize   int       `json:"original_size"`
	CompressedSize int       `json:"compressed_size"`
	Algorithm      Algorithm `json:"algorithm"`
}

// Ratio returns compressed/original, or 1 for empty input.
func (s Stats) Ratio() float64 {
	if s.OriginalSize == 0 {
		return 1
	}
	return float64(s.CompressedSize) / float64(s.OriginalSize)
}
