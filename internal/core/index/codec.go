package index

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"
)

// EncodePostings serializes a posting list in the portable roaring format
func EncodePostings(bm *roaring.Bitmap) ([]byte, error) { return bm.ToBytes() }

// DecodePostings is the inverse of EncodePostings
func DecodePostings(b []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return bm, nil
}

// KeyBytes is the big endian form of key used in storage keys
func KeyBytes(key uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], key)
	return b[:]
}
