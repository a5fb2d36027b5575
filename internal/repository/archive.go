package repository

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdEncoder / zstdDecoder 复用，EncodeAll / DecodeAll 可并发调用
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("repository: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("repository: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload 压缩原始载荷用于归档
func compressPayload(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// decompressPayload 解压归档的原始载荷
func decompressPayload(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress raw payload: %w", err)
	}
	return out, nil
}
