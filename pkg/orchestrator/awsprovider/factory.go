package awsprovider

import (
    "context"

    "github.com/jeffmoss/disco/pkg/scripthost"
)

// Factory implements pkg/scripthost.ProviderFactory, fulfilling
// `AwsProvider.init({name, region, profile})`.
type Factory struct{}

func (Factory) InitProvider(ctx context.Context, name, region, profile string) (scripthost.Provider, error) {
    return New(ctx, name, region, profile)
}
