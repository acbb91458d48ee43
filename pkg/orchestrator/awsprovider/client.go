// Package awsprovider implements the cloud Provider binding fulfilling
// spec.md §4.5's `AwsProvider.init`/`provider.role`/`provider.storage`
// bindings, grounded on
// original_source/disco-common/src/provider/{provider.rs,aws.rs}'s
// two-method Provider trait and its EC2-backed implementation.
package awsprovider

import (
    "context"
    "errors"
    "fmt"
    "os"

    awsconfig "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/service/ec2"
    ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
    "github.com/aws/aws-sdk-go-v2/service/iam"
    iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

    "github.com/jeffmoss/disco/pkg/failure"
    "github.com/jeffmoss/disco/pkg/orchestrator/retry"
)

// Client is the script-visible Provider handle (AwsProvider.init's return
// value). It satisfies both pkg/scripthost.Provider (Role/Storage) and
// pkg/orchestrator's broader Provider (ImportPublicKey/CreateHost), so one
// value serves both the script binding layer and the bootstrap sequencer.
type Client struct {
    Name   string
    Region string

    ec2 *ec2.Client
    iam *iam.Client
    s3  *s3.Client
}

// New mirrors provider/aws.rs's AwsProvider::new: a region-scoped client set
// built from the default credential chain (aws-sdk-go-v2/config's analogue
// of aws_config::defaults), optionally pinned to a named profile.
func New(ctx context.Context, name, region, profile string) (*Client, error) {
    opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
    if profile != "" {
        opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
    }
    cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
    if err != nil {
        return nil, failure.Newf(failure.Usage, "load aws config: %w", err)
    }
    return &Client{
        Name:   name,
        Region: region,
        ec2:    ec2.NewFromConfig(cfg),
        iam:    iam.NewFromConfig(cfg),
        s3:     s3.NewFromConfig(cfg),
    }, nil
}

// ImportPublicKey mirrors aws.rs's import_public_key: ImportKeyPair from the
// given local public key file, returning the fingerprint AWS assigns.
func (c *Client) ImportPublicKey(ctx context.Context, keyPath, keyName string) (string, error) {
    material, err := os.ReadFile(keyPath)
    if err != nil {
        return "", failure.Newf(failure.Usage, "read public key %s: %w", keyPath, err)
    }
    var out *ec2.ImportKeyPairOutput
    err = retry.Default().Do(ctx, func(ctx context.Context) error {
        var apiErr error
        out, apiErr = c.ec2.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
            KeyName:           &keyName,
            PublicKeyMaterial: material,
        })
        return classify(apiErr)
    })
    if err != nil {
        return "", err
    }
    if out.KeyFingerprint == nil {
        return "", failure.Newf(failure.Transient, "ImportKeyPair returned no fingerprint")
    }
    return *out.KeyFingerprint, nil
}

// CreateHost mirrors aws.rs's create_host: RunInstances with MinCount =
// MaxCount = 1. The original hard-codes t4g.micro; Disco's
// `start_instance({image, instance_type})` binding makes the instance type
// caller-supplied instead.
func (c *Client) CreateHost(ctx context.Context, imageID, instanceType string) (string, error) {
    var out *ec2.RunInstancesOutput
    err := retry.Default().Do(ctx, func(ctx context.Context) error {
        var apiErr error
        out, apiErr = c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
            ImageId:      &imageID,
            InstanceType: ec2types.InstanceType(instanceType),
            MinCount:     awsInt32(1),
            MaxCount:     awsInt32(1),
        })
        return classify(apiErr)
    })
    if err != nil {
        return "", err
    }
    if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
        return "", failure.Newf(failure.Transient, "RunInstances returned no instance id")
    }
    return *out.Instances[0].InstanceId, nil
}

// Role ensures an IAM role exists for `provider.role({name})`, returning its
// ARN. Idempotent: an AlreadyExists error from CreateRole is treated as
// success and the existing role is fetched instead (generalizing the
// orchestrator's "check desired vs observed before acting" idempotency,
// spec.md §4.6, to the role binding the original has no equivalent of).
func (c *Client) Role(ctx context.Context, name string) (string, error) {
    out, err := c.iam.CreateRole(ctx, &iam.CreateRoleInput{
        RoleName:                 &name,
        AssumeRolePolicyDocument: awsStr(ec2AssumeRolePolicy),
    })
    if err == nil {
        return *out.Role.Arn, nil
    }
    var exists *iamtypes.EntityAlreadyExistsException
    if errors.As(err, &exists) {
        got, gerr := c.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: &name})
        if gerr != nil {
            return "", failure.Newf(failure.Transient, "get existing role %s: %w", name, gerr)
        }
        return *got.Role.Arn, nil
    }
    return "", failure.Newf(failure.Transient, "create role %s: %w", name, err)
}

// Storage ensures an object-store bucket exists for `provider.storage`,
// returning the bucket name. Idempotent in the same spirit as Role.
func (c *Client) Storage(ctx context.Context, bucket, role string) (string, error) {
    _, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{
        Bucket: &bucket,
        CreateBucketConfiguration: &s3types.CreateBucketConfiguration{
            LocationConstraint: s3types.BucketLocationConstraint(c.Region),
        },
    })
    if err == nil {
        return bucket, nil
    }
    var owned *s3types.BucketAlreadyOwnedByYou
    if errors.As(err, &owned) {
        return bucket, nil
    }
    return "", failure.Newf(failure.Transient, "create bucket %s: %w", bucket, err)
}

func awsInt32(v int32) *int32 { return &v }
func awsStr(s string) *string { return &s }

const ec2AssumeRolePolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"ec2.amazonaws.com"},"Action":"sts:AssumeRole"}]}`

func classify(err error) error {
    if err == nil {
        return nil
    }
    if isThrottling(err) {
        return failure.Newf(failure.Transient, "%w", err)
    }
    return fmt.Errorf("%w", err)
}
