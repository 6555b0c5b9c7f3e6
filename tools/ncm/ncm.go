package ncm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// Signature is the 10 byte header of every ncm container
var Signature = []byte{'C', 'T', 'E', 'N', 'F', 'D', 'A', 'M', 0x00, 0x00}

// Assumes the single-cover container layout: signature, key block, meta block,
// 4 byte crc32, 5 unused bytes, one length-prefixed cover block, audio.
// Files carrying a second image block do not follow this layout.
const (
	crcSize   = 4
	gapSize   = 5
	chunkSize = 0x8000
	// blocks larger than this are treated as a corrupt header
	maxBlockSize = 64 << 20
)

// Metadata is the song description stored in the container
type Metadata struct {
	MusicName string   `json:"music_name"`
	Artists   []string `json:"artists"`
	Album     string   `json:"album"`
	Format    string   `json:"format"`
	Bitrate   int      `json:"bitrate"`
	Duration  int      `json:"duration"` // milliseconds
}

// Result describes one decrypted container
type Result struct {
	Path     string
	Format   string
	Metadata *Metadata
	Cover    []byte
	// Verified is false when the legacy xor transform produced the file
	Verified bool
}

type Decryptor struct {
	log           logger.Logger
	tempDir       string
	allowFallback bool
}

func NewDecryptor(cfg *config.Config, log logger.Logger) *Decryptor {
	return &Decryptor{
		log:           log,
		tempDir:       cfg.TempFolderPath,
		allowFallback: cfg.NcmAllowFallback,
	}
}

// Decrypt writes the plain audio of an ncm file to a new temp file and returns its path.
// The caller owns the file and removes it with Cleanup.
func (d *Decryptor) Decrypt(ctx context.Context, path string) (string, error) {
	res, err := d.DecryptFile(ctx, path)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

type header struct {
	key      []byte
	meta     []byte
	cover    []byte
	metadata *Metadata
	format   string
}

func (d *Decryptor) DecryptFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transcoder.ErrDecryption, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, chunkSize)

	h, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transcoder.ErrDecryption, path, err)
	}

	verified := true
	var xor func(p []byte, pos int64)

	streamKey, err := unwrapKey(h.key)
	switch {
	case err == nil:
		box := newKeyBox(streamKey)
		xor = box.xorAt
	case errors.Is(err, ErrUnsupportedCipher) && d.allowFallback:
		d.log.Warn("key block did not decrypt, using legacy xor transform, output is unverified",
			logger.String("path", path), logger.Error(err))
		key := fallbackKey()
		xor = func(p []byte, pos int64) { xorFallbackAt(p, pos, key) }
		verified = false
	default:
		return nil, fmt.Errorf("%w: %s: %w", transcoder.ErrDecryption, path, err)
	}

	if len(h.meta) > 0 && verified {
		if doc, err := unwrapMeta(h.meta); err != nil {
			d.log.Warn("could not read ncm metadata", logger.String("path", path), logger.Error(err))
		} else if md, err := parseMetadata(doc); err != nil {
			d.log.Warn("could not parse ncm metadata", logger.String("path", path), logger.Error(err))
		} else {
			h.metadata = md
			h.format = md.Format
		}
	}

	// sniff when the metadata did not say
	head, err := r.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%w: %s: %w", transcoder.ErrDecryption, path, err)
	}
	if h.format == "" {
		probe := append([]byte{}, head...)
		xor(probe, 0)
		h.format = sniffFormat(probe)
	}

	dir := d.tempDir
	if dir == "" {
		dir = os.TempDir()
	}

	name := filepath.Join(dir, "ncm_decrypted_"+uuid.NewString()+"."+h.format)
	out, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transcoder.ErrDecryption, err)
	}

	written, err := copyPayload(ctx, out, r, xor)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written == 0 {
		err = errors.New("empty payload")
	}
	if err != nil {
		_ = os.Remove(out.Name())
		return nil, fmt.Errorf("%w: %s: %w", transcoder.ErrDecryption, path, err)
	}

	d.log.Info("ncm decrypted",
		logger.String("input", path),
		logger.String("output", out.Name()),
		logger.String("format", h.format),
		logger.Int64("bytes", written),
		logger.Bool("verified", verified),
	)

	return &Result{
		Path:     out.Name(),
		Format:   h.format,
		Metadata: h.metadata,
		Cover:    h.cover,
		Verified: verified,
	}, nil
}

// Cleanup removes a decrypted temp file, a missing file is not an error
func Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsNCM reports whether the file starts with the container signature
func IsNCM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(f, sig); err != nil {
		return false
	}
	return bytes.Equal(sig, Signature)
}

func readHeader(r io.Reader) (*header, error) {
	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	if !bytes.Equal(sig, Signature) {
		return nil, errors.New("missing container signature")
	}

	h := &header{}
	var err error

	if h.key, err = readBlock(r, "key"); err != nil {
		return nil, err
	}
	if len(h.key) == 0 {
		return nil, errors.New("empty key block")
	}

	if h.meta, err = readBlock(r, "metadata"); err != nil {
		return nil, err
	}

	if _, err = io.CopyN(io.Discard, r, crcSize+gapSize); err != nil {
		return nil, fmt.Errorf("reading crc: %w", err)
	}

	if h.cover, err = readBlock(r, "cover"); err != nil {
		return nil, err
	}

	return h, nil
}

func readBlock(r io.Reader, name string) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("reading %s length: %w", name, err)
	}
	if size > maxBlockSize {
		return nil, fmt.Errorf("%s block of %d bytes", name, size)
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, fmt.Errorf("reading %s block: %w", name, err)
	}
	return block, nil
}

func copyPayload(ctx context.Context, w io.Writer, r io.Reader, xor func(p []byte, pos int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var pos int64

	for {
		if err := ctx.Err(); err != nil {
			return pos, err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			xor(buf[:n], pos)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return pos, werr
			}
			pos += int64(n)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pos, nil
		}
		if err != nil {
			return pos, err
		}
	}
}

func sniffFormat(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(head, []byte("OggS")):
		return "ogg"
	default:
		return "mp3"
	}
}

func parseMetadata(doc []byte) (*Metadata, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, err
	}

	md := &Metadata{
		MusicName: cast.ToString(raw["musicName"]),
		Album:     cast.ToString(raw["album"]),
		Format:    strings.ToLower(cast.ToString(raw["format"])),
		Bitrate:   cast.ToInt(raw["bitrate"]),
		Duration:  cast.ToInt(raw["duration"]),
	}

	// artist is a list of [name, id] pairs
	for _, a := range cast.ToSlice(raw["artist"]) {
		pair := cast.ToSlice(a)
		if len(pair) > 0 {
			md.Artists = append(md.Artists, cast.ToString(pair[0]))
		}
	}

	md.Format = filepath.Base(md.Format)
	if md.Format == "." || md.Format == "/" {
		md.Format = ""
	}

	return md, nil
}
