package sendq

//
// Async encrypt-then-send worker
//

import (
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// AsyncSealer encrypts outbound datagrams off the socket lock and
// hands them back to the queue through [OutQueue.EncryptedTail],
// completing the deferred encrypt-then-send handoff. The zero value
// is invalid; use [NewAsyncSealer] to instantiate and call
// [AsyncSealer.Close] when done.
//
// AsyncSealer seals with ChaCha20-Poly1305 and a monotonically
// increasing nonce. Packet protection with per-level QUIC keys
// belongs to the crypto collaborator; this worker covers deployments
// where the whole datagram is sealed at once, and doubles as the
// reference implementation of the handoff protocol.
type AsyncSealer struct {
	// aead seals the datagrams.
	aead cipher.AEAD

	// closeOnce provides "once" semantics for Close.
	closeOnce sync.Once

	// dgch is the channel where datagrams await sealing.
	dgch chan *Datagram

	// logger is the logger to use.
	logger Logger

	// nonce is the next nonce counter value.
	nonce uint64

	// nonceMu protects nonce.
	nonceMu sync.Mutex

	// oq receives the sealed datagrams.
	oq *OutQueue

	// wg joins the worker goroutines.
	wg sync.WaitGroup
}

// NewAsyncSealer creates an [AsyncSealer] sealing with the given
// 32-byte key and feeding the given queue, and spawns workers many
// sealing goroutines.
func NewAsyncSealer(oq *OutQueue, key []byte, workers int, logger Logger) (*AsyncSealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	const manyDatagrams = 1024
	as := &AsyncSealer{
		aead:   aead,
		dgch:   make(chan *Datagram, manyDatagrams),
		logger: logger,
		oq:     oq,
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		as.wg.Add(1)
		go as.loop()
	}
	return as, nil
}

// Submit schedules a cleartext datagram for sealing. Submitting
// after Close panics, like sending on any closed channel.
func (as *AsyncSealer) Submit(dg *Datagram) {
	as.dgch <- dg
}

// loop seals datagrams until the channel is closed.
func (as *AsyncSealer) loop() {
	defer as.wg.Done()
	for dg := range as.dgch {
		as.oq.EncryptedTail(as.seal(dg))
	}
}

// seal encrypts a datagram payload into a fresh buffer.
func (as *AsyncSealer) seal(dg *Datagram) *Datagram {
	var nonce [chacha20poly1305.NonceSize]byte
	as.nonceMu.Lock()
	value := as.nonce
	as.nonce++
	as.nonceMu.Unlock()
	binary.BigEndian.PutUint64(nonce[4:], value)
	sealed := as.aead.Seal(nil, nonce[:], dg.Payload, nil)
	return &Datagram{
		Payload:   sealed,
		Encrypted: true,
	}
}

// Close stops accepting datagrams and joins the workers. Close is
// idempotent.
func (as *AsyncSealer) Close() error {
	as.closeOnce.Do(func() {
		close(as.dgch)
		as.wg.Wait()
	})
	return nil
}
