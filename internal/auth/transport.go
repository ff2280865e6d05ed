package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/icholy/digest"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// WrapTransport layers the interceptors p needs over base. NTLM replaces the
// digest and SigV4 chain since the handshake owns the connection.
func WrapTransport(base http.RoundTripper, p *Prepared) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if p == nil {
		return base
	}
	if p.NTLM != nil {
		return ntlmssp.Negotiator{RoundTripper: base}
	}
	rt := base
	if p.AWSV4 != nil && p.awsCreds != nil {
		rt = &sigV4Transport{
			base:    rt,
			creds:   p.awsCreds,
			signer:  v4.NewSigner(),
			service: p.AWSV4.Service,
			region:  p.AWSV4.Region,
			now:     time.Now,
		}
	}
	if p.Digest != nil {
		rt = &digest.Transport{
			Username:  p.Digest.Username,
			Password:  p.Digest.Password,
			Transport: rt,
		}
	}
	return rt
}

func ntlmUser(cfg collection.NTLMAuth) string {
	if cfg.Domain == "" {
		return cfg.Username
	}
	return cfg.Domain + `\` + cfg.Username
}

// resolveAWSCredentials prefers a static key pair over a named profile. Both
// missing yields a nil provider.
func resolveAWSCredentials(ctx context.Context, cfg collection.AWSV4Auth) (aws.CredentialsProvider, error) {
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken), nil
	}
	if cfg.ProfileName == "" {
		return nil, nil
	}
	loaded, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(cfg.ProfileName),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeAuth, err, "load aws profile %q", cfg.ProfileName)
	}
	return loaded.Credentials, nil
}

type sigV4Transport struct {
	base    http.RoundTripper
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	service string
	region  string
	now     func() time.Time
}

func (t *sigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	creds, err := t.creds.Retrieve(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeAuth, err, "retrieve aws credentials")
	}

	signed := req.Clone(ctx)
	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		payload, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeHTTP, err, "read body for signing")
		}
		signed.Body = io.NopCloser(bytes.NewReader(payload))
		signed.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		signed.ContentLength = int64(len(payload))
	}
	sum := sha256.Sum256(payload)

	if err := t.signer.SignHTTP(ctx, creds, signed, hex.EncodeToString(sum[:]), t.service, t.region, t.now()); err != nil {
		return nil, errdef.Wrap(errdef.CodeAuth, err, "sign request")
	}
	return t.base.RoundTrip(signed)
}
