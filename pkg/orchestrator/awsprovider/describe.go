package awsprovider

import (
    "context"
    "time"

    "github.com/aws/aws-sdk-go-v2/service/ec2"
    ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

    "github.com/jeffmoss/disco/pkg/failure"
    "github.com/jeffmoss/disco/pkg/orchestrator/retry"
)

// WaitRunning polls DescribeInstances until instanceID reaches the Running
// state, matching `cluster.start_instance`'s documented "blocks until
// Running" effect (spec.md §4.5).
func (c *Client) WaitRunning(ctx context.Context, instanceID string) (InstanceInfo, error) {
    for {
        info, state, err := c.describe(ctx, instanceID)
        if err != nil {
            return InstanceInfo{}, err
        }
        if state == ec2types.InstanceStateNameRunning {
            return info, nil
        }
        select {
        case <-ctx.Done():
            return InstanceInfo{}, ctx.Err()
        case <-time.After(3 * time.Second):
        }
    }
}

func (c *Client) describe(ctx context.Context, instanceID string) (InstanceInfo, ec2types.InstanceStateName, error) {
    out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
        InstanceIds: []string{instanceID},
    })
    if err != nil {
        return InstanceInfo{}, "", failure.Newf(failure.Transient, "describe instance %s: %w", instanceID, err)
    }
    if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
        return InstanceInfo{}, "", failure.Newf(failure.Transient, "instance %s not found", instanceID)
    }
    inst := out.Reservations[0].Instances[0]
    info := InstanceInfo{InstanceID: instanceID, Tags: map[string]string{}}
    if inst.PublicIpAddress != nil {
        info.PublicIP = *inst.PublicIpAddress
    }
    for _, t := range inst.Tags {
        if t.Key != nil && t.Value != nil {
            info.Tags[*t.Key] = *t.Value
        }
    }
    var state ec2types.InstanceStateName
    if inst.State != nil {
        state = inst.State.Name
    }
    return info, state, nil
}

// AllocateAndAssociateIP mirrors `cluster.attach_ip`: allocate an elastic IP
// and bind it to instanceID, returning the allocated address.
func (c *Client) AllocateAndAssociateIP(ctx context.Context, instanceID string) (string, error) {
    var alloc *ec2.AllocateAddressOutput
    err := retry.Default().Do(ctx, func(ctx context.Context) error {
        var apiErr error
        alloc, apiErr = c.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{Domain: ec2types.DomainTypeVpc})
        return classify(apiErr)
    })
    if err != nil {
        return "", err
    }
    err = retry.Default().Do(ctx, func(ctx context.Context) error {
        _, apiErr := c.ec2.AssociateAddress(ctx, &ec2.AssociateAddressInput{
            AllocationId: alloc.AllocationId,
            InstanceId:   &instanceID,
        })
        return classify(apiErr)
    })
    if err != nil {
        return "", err
    }
    if alloc.PublicIp == nil {
        return "", failure.Newf(failure.Transient, "AllocateAddress returned no public IP")
    }
    return *alloc.PublicIp, nil
}
