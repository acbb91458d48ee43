package awsprovider

import (
    "errors"
    "strings"

    "github.com/aws/smithy-go"
)

// isThrottling reports whether err is one of the transient AWS API error
// codes spec.md §4.6's retry policy names (Throttling, RequestLimitExceeded,
// 5xx), using smithy-go's APIError to inspect the wire error code without
// string-matching the whole error.
func isThrottling(err error) bool {
    var apiErr smithy.APIError
    if !errors.As(err, &apiErr) {
        return false
    }
    switch apiErr.ErrorCode() {
    case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
        return true
    }
    var httpErr interface{ HTTPStatusCode() int }
    if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() >= 500 {
        return true
    }
    return strings.Contains(apiErr.ErrorMessage(), "Rate exceeded")
}

// NewHost generalizes builder/host.rs's TryFrom<InstanceInfo> conversion:
// fails closed with a named error when the Name tag or the public IP is
// missing.
func NewHost(info InstanceInfo) (Host, error) {
    name, ok := info.Tags["Name"]
    if !ok || name == "" {
        return Host{}, errors.New("awsprovider: instance has no Name tag")
    }
    if info.PublicIP == "" {
        return Host{}, errors.New("awsprovider: instance has no public IP")
    }
    return Host{Name: name, ID: info.InstanceID, PublicIP: info.PublicIP}, nil
}

// Host is the script/orchestrator-visible view of a launched instance,
// generalizing builder/host.rs's Host{name, id, public_ip}.
type Host struct {
    Name     string
    ID       string
    PublicIP string
}

// InstanceInfo is the subset of an EC2 DescribeInstances result NewHost
// converts from.
type InstanceInfo struct {
    InstanceID string
    PublicIP   string
    Tags       map[string]string
}
