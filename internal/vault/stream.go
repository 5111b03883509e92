package vault

import (
	"crypto/rand"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/agucova/oxcrypt/internal/oxerr"
)

// ChunkPayloadSize is the plaintext size of every chunk but the last.
const ChunkPayloadSize = 32 * 1024

func (c *Cryptor) encryptionOverhead() int {
	return c.content.nonceSize() + c.content.tagSize()
}

// EncryptedFileSize returns the on-disk size of a file whose plaintext is
// size bytes.
func (c *Cryptor) EncryptedFileSize(size int64) int64 {
	overhead := int64(c.encryptionOverhead())
	fullChunks := (size / ChunkPayloadSize) * (ChunkPayloadSize + overhead)
	rest := size % ChunkPayloadSize
	if rest > 0 {
		rest += overhead
	}
	return int64(HeaderPayloadSize) + overhead + fullChunks + rest
}

// DecryptedFileSize returns the plaintext size of a file whose encrypted
// size is size bytes.
func (c *Cryptor) DecryptedFileSize(size int64) int64 {
	overhead := int64(c.encryptionOverhead())
	size -= int64(HeaderPayloadSize) + overhead
	if size < 0 {
		return 0
	}
	fullChunks := (size / (ChunkPayloadSize + overhead)) * ChunkPayloadSize
	rest := size % (ChunkPayloadSize + overhead)
	if rest > 0 {
		rest -= overhead
	}
	return fullChunks + rest
}

// ContentReader decrypts a vault file's content chunk-by-chunk as it is read.
type ContentReader struct {
	cryptor contentCryptor
	header  FileHeader
	src     io.Reader
	log     *logrus.Logger

	unread []byte
	buf    []byte

	chunkNr uint64
	err     error
}

// NewContentReader builds a ContentReader for a file whose header has
// already been read from src.
func (c *Cryptor) NewContentReader(src io.Reader, header FileHeader) (*ContentReader, error) {
	fc, err := c.newContentCryptorForFile(header.ContentKey)
	if err != nil {
		return nil, err
	}
	return &ContentReader{
		cryptor: fc,
		header:  header,
		src:     src,
		log:     c.log,
		buf:     make([]byte, ChunkPayloadSize+c.encryptionOverhead()),
	}, nil
}

// NewReader reads the file header from src and returns a ContentReader for
// what follows.
func (c *Cryptor) NewReader(src io.Reader) (*ContentReader, error) {
	header, err := c.UnmarshalHeader(src)
	if err != nil {
		return nil, err
	}
	return c.NewContentReader(src, header)
}

func (r *ContentReader) Read(p []byte) (int, error) {
	if len(r.unread) > 0 {
		n := copy(p, r.unread)
		r.unread = r.unread[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	last, err := r.readChunk()
	if err != nil {
		r.err = err
		return 0, err
	}

	n := copy(p, r.unread)
	r.unread = r.unread[n:]

	if last {
		if _, err := r.src.Read(make([]byte, 1)); err == nil {
			r.err = oxerr.Wrap(oxerr.Integrity, "ContentReader.Read", io.ErrUnexpectedEOF)
		} else if err != io.EOF {
			r.err = oxerr.Wrap(oxerr.Transient, "ContentReader.Read", err)
		} else {
			r.err = io.EOF
		}
	}
	return n, nil
}

// readChunk reads and decrypts the next chunk. A short final chunk is
// valid; a short non-final chunk (one where more ciphertext was expected
// but the stream ended mid-chunk) is always an integrity violation, since
// only the last chunk of a file may be smaller than ChunkPayloadSize.
func (r *ContentReader) readChunk() (last bool, err error) {
	if len(r.unread) != 0 {
		panic("vault: readChunk called with dirty buffer")
	}

	n, readErr := io.ReadFull(r.src, r.buf)
	var in []byte
	switch {
	case readErr == io.EOF:
		// Either an empty file (header only, zero chunks) or a clean
		// chunk-aligned ending; both are valid.
		return true, nil
	case readErr == io.ErrUnexpectedEOF:
		if n < r.cryptor.nonceSize()+r.cryptor.tagSize() {
			r.log.WithField("chunk", r.chunkNr).Error("encrypted stream truncated mid-chunk")
			return false, oxerr.Wrap(oxerr.Integrity, "readChunk", oxerr.ErrTruncatedChunk)
		}
		last = true
		in = r.buf[:n]
	case readErr != nil:
		return false, oxerr.Wrap(oxerr.Transient, "readChunk", readErr)
	default:
		in = r.buf
	}

	ad := r.cryptor.fileAssociatedData(r.header.Nonce, r.chunkNr)
	payload, err := r.cryptor.decryptChunk(in, ad)
	if err != nil {
		r.log.WithError(err).WithField("chunk", r.chunkNr).Error("chunk failed authentication")
		return false, err
	}

	r.chunkNr++
	r.unread = r.buf[:copy(r.buf, payload)]
	return last, nil
}

// ContentWriter encrypts plaintext chunk-by-chunk as it is written out.
type ContentWriter struct {
	cryptor contentCryptor
	header  FileHeader

	dst       io.Writer
	unwritten []byte
	buf       []byte

	chunkNr uint64
	err     error
}

// NewContentWriter builds a ContentWriter for a file whose header has
// already been written to dst.
func (c *Cryptor) NewContentWriter(dst io.Writer, header FileHeader) (*ContentWriter, error) {
	fc, err := c.newContentCryptorForFile(header.ContentKey)
	if err != nil {
		return nil, err
	}
	w := &ContentWriter{
		cryptor: fc,
		header:  header,
		dst:     dst,
		buf:     make([]byte, ChunkPayloadSize+c.encryptionOverhead()),
	}
	w.unwritten = w.buf[:0]
	return w, nil
}

// NewWriter creates and writes a fresh random header to dst, then returns a
// ContentWriter for the content that follows.
func (c *Cryptor) NewWriter(dst io.Writer) (*ContentWriter, error) {
	header, err := c.NewHeader()
	if err != nil {
		return nil, err
	}
	if err := c.MarshalHeader(dst, header); err != nil {
		return nil, err
	}
	return c.NewContentWriter(dst, header)
}

func (w *ContentWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := len(p)
	for len(p) > 0 {
		free := w.buf[len(w.unwritten):ChunkPayloadSize]
		n := copy(free, p)
		p = p[n:]
		w.unwritten = w.buf[:len(w.unwritten)+n]

		if len(w.unwritten) == ChunkPayloadSize && len(p) > 0 {
			if err := w.flushChunk(false); err != nil {
				w.err = err
				return 0, err
			}
		}
	}
	return total, nil
}

// Close flushes the final (possibly short or empty) chunk. It does not
// close the underlying writer.
func (w *ContentWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	err := w.flushChunk(true)
	if err != nil {
		w.err = err
		return err
	}
	w.err = oxerr.Wrap(oxerr.Fatal, "ContentWriter", io.ErrClosedPipe)
	return nil
}

// RangeReader decrypts an arbitrary plaintext byte range of a file without
// walking every preceding chunk, by seeking directly to the first chunk the
// requested range overlaps.
type RangeReader struct {
	cryptor contentCryptor
	header  FileHeader
	src     io.ReaderAt
	log     *logrus.Logger
}

// NewRangeReader builds a RangeReader over src (positioned so that absolute
// offset 0 is the start of the file, header included) using an
// already-unmarshalled header.
func (c *Cryptor) NewRangeReader(src io.ReaderAt, header FileHeader) (*RangeReader, error) {
	fc, err := c.newContentCryptorForFile(header.ContentKey)
	if err != nil {
		return nil, err
	}
	return &RangeReader{cryptor: fc, header: header, src: src, log: c.log}, nil
}

// headerSize is the on-disk byte length of the encrypted header preceding
// this file's first chunk, derived from the same cipher used for its chunks
// (header and chunks always share a nonce/tag size for a given cipher combo).
func (r *RangeReader) headerSize() int64 {
	return int64(r.cryptor.nonceSize() + HeaderPayloadSize + r.cryptor.tagSize())
}

func (r *RangeReader) encryptedChunkSize() int64 {
	return int64(r.cryptor.nonceSize()+r.cryptor.tagSize()) + ChunkPayloadSize
}

// ReadRange returns the decrypted plaintext bytes [offset, offset+length).
// It reads only the encrypted chunks the range overlaps, verifying each
// one's tag before splicing its portion into the result; a short read past
// end-of-file truncates the result rather than erroring.
func (r *RangeReader) ReadRange(offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	overhead := int64(r.cryptor.nonceSize() + r.cryptor.tagSize())
	encChunkSize := r.encryptedChunkSize()
	headerSize := r.headerSize()

	firstChunk := offset / ChunkPayloadSize
	lastChunk := (offset + length - 1) / ChunkPayloadSize

	out := make([]byte, 0, length)
	buf := make([]byte, encChunkSize)
	pos := headerSize + firstChunk*encChunkSize

	for chunkNr := firstChunk; chunkNr <= lastChunk; chunkNr++ {
		n, err := r.src.ReadAt(buf, pos)
		if err != nil && err != io.EOF {
			return nil, oxerr.Wrap(oxerr.Transient, "RangeReader.ReadRange", err)
		}
		if n == 0 {
			break
		}
		if n < int(overhead) {
			r.log.WithField("chunk", chunkNr).Error("encrypted stream truncated mid-chunk")
			return nil, oxerr.Wrap(oxerr.Integrity, "RangeReader.ReadRange", oxerr.ErrTruncatedChunk)
		}

		ad := r.cryptor.fileAssociatedData(r.header.Nonce, uint64(chunkNr))
		plaintext, decErr := r.cryptor.decryptChunk(buf[:n], ad)
		if decErr != nil {
			r.log.WithError(decErr).WithField("chunk", chunkNr).Error("chunk failed authentication")
			return nil, decErr
		}

		chunkStart := chunkNr * ChunkPayloadSize
		lo := int64(0)
		if offset > chunkStart {
			lo = offset - chunkStart
		}
		hi := int64(len(plaintext))
		if end := offset + length; end < chunkStart+int64(len(plaintext)) {
			hi = end - chunkStart
		}
		if lo < hi {
			out = append(out, plaintext[lo:hi]...)
		}

		// A short read (n < len(buf)) means this was the final chunk; stop
		// even if the caller's range nominally extends further.
		if n < len(buf) {
			break
		}
		pos += int64(n)
	}
	return out, nil
}

func (w *ContentWriter) flushChunk(last bool) error {
	if !last && len(w.unwritten) != ChunkPayloadSize {
		panic("vault: flushChunk called with partial non-final chunk")
	}
	if len(w.unwritten) == 0 {
		// Nothing buffered: an empty (or exactly-chunk-aligned) file emits
		// nothing beyond the header and whichever chunks were already flushed.
		return nil
	}

	nonce := make([]byte, w.cryptor.nonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return oxerr.Wrap(oxerr.Fatal, "flushChunk: nonce", err)
	}
	ad := w.cryptor.fileAssociatedData(w.header.Nonce, w.chunkNr)
	out := w.cryptor.encryptChunk(w.unwritten, nonce, ad)

	if _, err := w.dst.Write(out); err != nil {
		return oxerr.Wrap(oxerr.Transient, "flushChunk: write", err)
	}
	w.unwritten = w.buf[:0]
	w.chunkNr++
	return nil
}
