package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flowcanvas/authcore/pkg/cryptox"
	"github.com/flowcanvas/authcore/pkg/idx"
	"github.com/flowcanvas/authcore/pkg/jwtx"
)

// InitSigningKey builds the token signer from configuration.
//
// With AUTH_SIGNING_KEY_FILE set, the key is loaded from a PKCS8 PEM file
// and tokens survive restarts. Without it a fresh key is generated on
// every start: fine for dev, but every outstanding token dies with the
// process.
//
// Supported algorithms: EdDSA, ES256.
func InitSigningKey(cfg Config, logger *slog.Logger) (jwtx.Signer, error) {
	var (
		pemKey []byte
		err    error
	)

	if cfg.SigningKeyFile != "" {
		pemKey, err = os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("app: read signing key: %w", err)
		}
	} else {
		switch cfg.Algorithm {
		case "ES256":
			pemKey, err = cryptox.GenerateES256Key()
		default:
			pemKey, err = cryptox.GenerateEd25519Key()
		}
		if err != nil {
			return nil, fmt.Errorf("app: generate signing key: %w", err)
		}
	}

	kid := idx.New().String()

	var signer jwtx.Signer
	switch cfg.Algorithm {
	case "ES256":
		signer, err = jwtx.NewSignerES256(kid, pemKey)
	default:
		signer, err = jwtx.NewSignerEdDSA(kid, pemKey)
	}
	if err != nil {
		return nil, fmt.Errorf("app: load signing key: %w", err)
	}

	if cfg.SigningKeyFile != "" {
		logger.Info("signing key loaded",
			"algorithm", signer.Alg(),
			"kid", signer.KID(),
			"file", cfg.SigningKeyFile,
		)
	} else {
		logger.Info("ephemeral signing key generated",
			"algorithm", signer.Alg(),
			"kid", signer.KID(),
		)
		logger.Warn("all previously issued tokens are now invalid (ephemeral key mode)")
	}

	return signer, nil
}
