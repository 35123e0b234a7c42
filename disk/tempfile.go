package disk

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// createTemp creates a uniquely named file directly under root. os.CreateTemp
// has no os.Root counterpart, so names are generated here.
func createTemp(root *os.Root, pattern string, perm os.FileMode) (*os.File, string, error) {
	if !strings.Contains(pattern, "*") {
		pattern += "*"
	}
	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		f, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
