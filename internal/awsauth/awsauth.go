// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package awsauth signs outbound Bedrock requests with AWS SigV4. It is
// the plain net/http-compatible counterpart to the teacher's Envoy
// ext_proc AWS backend-auth handler: same credential resolution and
// signer, applied directly to an *http.Request instead of an ext_proc
// header/body mutation pair.
package awsauth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
)

const service = "bedrock"

// Signer signs requests bound for the Bedrock Runtime API in a given
// region using the default AWS credential chain.
type Signer struct {
	credentialsProvider aws.CredentialsProvider
	signer              *v4.Signer
	region              string
}

// Config selects how the Signer resolves credentials. An empty
// CredentialFile falls back to the default AWS credential chain
// (environment, shared config, container/instance role).
type Config struct {
	Region         string
	CredentialFile string
}

// New loads credentials per cfg and returns a ready-to-use Signer.
func New(ctx context.Context, cfg Config) (*Signer, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.CredentialFile != "" {
		opts = append(opts, config.WithSharedCredentialsFiles([]string{cfg.CredentialFile}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("awsauth: cannot load AWS config: %w", err)
	}

	return &Signer{
		credentialsProvider: awsCfg.Credentials,
		signer:              v4.NewSigner(),
		region:              cfg.Region,
	}, nil
}

// Sign computes and sets the SigV4 Authorization, X-Amz-Date,
// X-Amz-Content-Sha256, and (when using temporary credentials)
// X-Amz-Security-Token headers on req in place. req.Body, if present, is
// drained and replaced so the caller can still send it.
func (s *Signer) Sign(ctx context.Context, req *http.Request) error {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("awsauth: cannot read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	creds, err := s.credentialsProvider.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("awsauth: cannot retrieve AWS credentials: %w", err)
	}

	payloadHash := sha256.Sum256(body)
	if err := s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(payloadHash[:]), service, s.region, time.Now()); err != nil {
		return fmt.Errorf("awsauth: cannot sign request: %w", err)
	}
	return nil
}
