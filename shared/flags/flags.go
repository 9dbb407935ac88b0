// Package flags defines the command line flags specific to the ceremony
// coordinator.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// HTTPHost defines the address the API server listens on.
	HTTPHost = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host on which the coordinator API server runs",
		Value: "127.0.0.1",
	}
	// HTTPPort defines the port the API server listens on.
	HTTPPort = &cli.StringFlag{
		Name:  "http-port",
		Usage: "Port on which the coordinator API server runs",
		Value: "8080",
	}
	// JWTSecretFlag carries the HMAC secret API bearer tokens are verified
	// with. Prefer JWTSecretFileFlag outside of development.
	JWTSecretFlag = &cli.StringFlag{
		Name:  "jwt-secret",
		Usage: "Secret used to verify API bearer tokens",
	}
	// JWTSecretFileFlag points to a file holding the token secret.
	JWTSecretFileFlag = &cli.StringFlag{
		Name:  "jwt-secret-file",
		Usage: "Path to a file holding the secret used to verify API bearer tokens",
	}
	// EmailDomainFlag grants coordinator rights to verified emails under the
	// given domain.
	EmailDomainFlag = &cli.StringFlag{
		Name:  "email-domain",
		Usage: "Verified emails under this domain carry coordinator rights",
	}
	// BucketPostfixFlag is appended to a ceremony prefix to form its storage
	// bucket name.
	BucketPostfixFlag = &cli.StringFlag{
		Name:  "bucket-postfix",
		Usage: "Postfix appended to a ceremony prefix to form its bucket name",
		Value: "-ph2-ceremony",
	}
	// PresignExpirationFlag bounds the lifetime of presigned storage URLs.
	PresignExpirationFlag = &cli.DurationFlag{
		Name:  "presign-expiration",
		Usage: "Lifetime of presigned storage URLs",
		Value: 15 * time.Minute,
	}
	// AWSRegionFlag selects the region for S3, EC2 and SSM calls.
	AWSRegionFlag = &cli.StringFlag{
		Name:  "aws-region",
		Usage: "AWS region used for object storage and verification machines",
		Value: "us-east-1",
	}
	// AWSAccessKeyFlag is the access key id of the coordinator's AWS identity.
	AWSAccessKeyFlag = &cli.StringFlag{
		Name:  "aws-access-key",
		Usage: "AWS access key id",
	}
	// AWSSecretKeyFlag is the secret access key of the coordinator's AWS
	// identity.
	AWSSecretKeyFlag = &cli.StringFlag{
		Name:  "aws-secret-key",
		Usage: "AWS secret access key",
	}
	// AWSEndpointFlag overrides the S3 endpoint for compatible stores.
	AWSEndpointFlag = &cli.StringFlag{
		Name:  "aws-endpoint",
		Usage: "Optional override for S3-compatible endpoints",
	}
	// ScratchDirFlag is the root of the verifier's working directories.
	ScratchDirFlag = &cli.StringFlag{
		Name:  "scratch-dir",
		Usage: "Directory under which verification working directories are created",
		Value: "/tmp/ceremonyd",
	}
)
