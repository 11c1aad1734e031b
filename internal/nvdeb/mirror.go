package nvdeb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps the S3 client for the package mirror (any S3-compatible
// endpoint; Cloudflare R2 in the default deployment).
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes a mirror client from configuration values.
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Values["MIRROR_ENDPOINT"]
	accessKey := cfg.Values["MIRROR_ACCESS_KEY_ID"]
	secretKey := cfg.Values["MIRROR_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["MIRROR_BUCKET_NAME"]

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (MIRROR_ENDPOINT, MIRROR_ACCESS_KEY_ID, MIRROR_SECRET_ACCESS_KEY, MIRROR_BUCKET_NAME)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// UploadFile uploads a byte payload to the mirror.
func (m *MirrorClient) UploadFile(ctx context.Context, key string, body []byte) error {
	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	} else if strings.HasSuffix(key, ".deb") {
		contentType = "application/vnd.debian.binary-package"
	}

	_, err := m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return err
}

// UploadLocalFile uploads a file from disk to the mirror.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	return m.UploadFile(ctx, key, data)
}

// mirrorIndexEntry describes one mirrored package in the JSON index.
type mirrorIndexEntry struct {
	File    string `json:"file"`
	Size    int64  `json:"size"`
	Blake3  string `json:"blake3"`
	Channel string `json:"channel"`
	Arch    string `json:"arch"`
}

// uploadPackages mirrors every built package (and checksum sidecar) from the
// local package directory, then uploads a regenerated JSON index.
func uploadPackages(ctx context.Context, cfg *Config) error {
	mc, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}

	matches, err := filepath.Glob(filepath.Join(PackagesDir, "*.deb"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no packages found in %s", PackagesDir)
	}
	sort.Strings(matches)

	var index []mirrorIndexEntry
	for _, pkg := range matches {
		name := filepath.Base(pkg)
		info, err := os.Stat(pkg)
		if err != nil {
			return err
		}
		sum, err := hashFile(pkg)
		if err != nil {
			return err
		}

		colArrow.Print("-> ")
		colSuccess.Printf("Mirroring %s (%d bytes)\n", name, info.Size())
		if err := mc.UploadLocalFile(ctx, "packages/"+name, pkg); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
		if sidecar := pkg + ".b3"; fileExists(sidecar) {
			if err := mc.UploadLocalFile(ctx, "packages/"+name+".b3", sidecar); err != nil {
				return fmt.Errorf("uploading %s.b3: %w", name, err)
			}
		}

		channel, arch := parsePackageFileName(name)
		index = append(index, mirrorIndexEntry{
			File:    name,
			Size:    info.Size(),
			Blake3:  sum,
			Channel: channel,
			Arch:    arch,
		})
	}

	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := mc.UploadFile(ctx, "packages/index.json", payload); err != nil {
		return fmt.Errorf("uploading index: %w", err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Mirrored %d package(s) and index\n", len(index))
	return nil
}

// parsePackageFileName recovers channel and arch from the layout convention
// <product>[-<version>]-<channel>-linux-<arch>.deb.
func parsePackageFileName(name string) (channel, arch string) {
	base := strings.TrimSuffix(name, ".deb")
	parts := strings.Split(base, "-")
	// ... linux-<arch> is always the tail; channel precedes "linux".
	for i, p := range parts {
		if p == "linux" && i+1 < len(parts) {
			arch = parts[i+1]
			if i >= 1 {
				channel = parts[i-1]
			}
			return channel, arch
		}
	}
	return "", ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
