package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChainSafe/go-schnorrkel"
)

// signingContext is the substrate signing context string; signatures made
// under any other context do not verify.
var signingContext = []byte("substrate")

// ErrBadSignature reports a signature that does not verify against the
// claimed address.
var ErrBadSignature = errors.New("signature verification failed")

// Keypair holds an sr25519 keypair and its ss58 address. It signs outbound
// platform requests and is safe for concurrent use.
type Keypair struct {
	secret  *schnorrkel.SecretKey
	public  *schnorrkel.PublicKey
	address string
}

// NewKeypairFromSeed derives a keypair from a 32-byte mini secret seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("seed must be 32 bytes, got %d", len(seed))
	}
	var raw [32]byte
	copy(raw[:], seed)

	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("derive keypair: %w", err)
	}
	public := mini.Public()
	return &Keypair{
		secret:  mini.ExpandEd25519(),
		public:  public,
		address: EncodeSS58(public.Encode()),
	}, nil
}

// NewKeypairFromHex derives a keypair from a hex seed, with or without a
// 0x prefix.
func NewKeypairFromHex(hexSeed string) (*Keypair, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(hexSeed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return NewKeypairFromSeed(seed)
}

// Address returns the keypair's ss58 address.
func (k *Keypair) Address() string {
	return k.address
}

// Sign signs a message under the substrate signing context.
func (k *Keypair) Sign(msg []byte) ([64]byte, error) {
	sig, err := k.secret.Sign(schnorrkel.NewSigningContext(signingContext, msg))
	if err != nil {
		return [64]byte{}, fmt.Errorf("sign: %w", err)
	}
	return sig.Encode(), nil
}

// SignRequest signs the request's canonical string and sets the
// Authorization header. body must be the literal bytes the request carries.
func (k *Keypair) SignRequest(req *http.Request, body []byte) error {
	canonical := CanonicalString(req.Method, req.URL.Path, req.URL.RawQuery, body)
	sig, err := k.Sign([]byte(canonical))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", FormatAuthorization(k.address, sig))
	return nil
}

// Verify checks an sr25519 signature over msg against an ss58 address.
func Verify(address string, msg []byte, sig [64]byte) (bool, error) {
	pubKey, err := DecodeSS58(address)
	if err != nil {
		return false, err
	}

	public := new(schnorrkel.PublicKey)
	if err := public.Decode(pubKey); err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	signature := new(schnorrkel.Signature)
	if err := signature.Decode(sig); err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	ok, err := public.Verify(signature, schnorrkel.NewSigningContext(signingContext, msg))
	if err != nil {
		return false, fmt.Errorf("verify signature: %w", err)
	}
	return ok, nil
}
