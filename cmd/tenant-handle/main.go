// Command tenant-handle prints the opaque widget handle for a raw tenant id.
//
//	tenant-handle <tenant-id>
//
// The pepper comes from TENANT_HASH_PEPPER or, when unset, from the SSM
// parameter named by TENANT_HASH_PEPPER_PARAM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"github.com/wolfman30/widgetchat/cmd/mainconfig"
	appconfig "github.com/wolfman30/widgetchat/internal/config"
	"github.com/wolfman30/widgetchat/internal/paramstore"
	"github.com/wolfman30/widgetchat/internal/tenancy"
)

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args[1:], os.Getenv, nil, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "tenant-handle:", err)
		os.Exit(1)
	}
}

// run derives the handle. getter is built from the AWS environment when nil
// and a parameter name is configured.
func run(ctx context.Context, args []string, getenv func(string) string, getter paramstore.Getter, out io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: tenant-handle <tenant-id>")
	}
	literal := getenv("TENANT_HASH_PEPPER")
	param := getenv("TENANT_HASH_PEPPER_PARAM")

	if getter == nil && strings.TrimSpace(literal) == "" && strings.TrimSpace(param) != "" {
		client, err := ssmGetter(ctx, getenv)
		if err != nil {
			return err
		}
		getter = client
	}

	pepper, err := paramstore.Secret(ctx, getter, literal, param)
	if err != nil {
		return fmt.Errorf("pepper: %w", err)
	}
	handle, err := tenancy.HandleFor([]byte(pepper), strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, handle)
	return err
}

func ssmGetter(ctx context.Context, getenv func(string) string) (*paramstore.Client, error) {
	region := getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, &appconfig.Config{
		AWSRegion:           region,
		AWSAccessKeyID:      getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:  getenv("AWS_SECRET_ACCESS_KEY"),
		AWSEndpointOverride: getenv("AWS_ENDPOINT_OVERRIDE"),
	})
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return paramstore.New(ssm.NewFromConfig(awsCfg))
}
