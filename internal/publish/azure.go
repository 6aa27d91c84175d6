package publish

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// EnvAzureSAS holds a SAS token appended to the service URL when the
// configured endpoint carries none.
const EnvAzureSAS = "THREADER_AZURE_SAS"

// AzureUploader uploads archives into a blob container.
type AzureUploader struct {
	client    *azblob.Client
	container string
}

// NewAzureUploader builds a client for serviceURL, for example
// https://account.blob.core.windows.net/?sv=...
func NewAzureUploader(serviceURL, container string) (*AzureUploader, error) {
	if serviceURL == "" {
		return nil, fmt.Errorf("azure publishing requires the [publish] endpoint (storage account URL)")
	}
	if sas := os.Getenv(EnvAzureSAS); sas != "" {
		serviceURL = withSAS(serviceURL, sas)
	}

	client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureUploader{client: client, container: container}, nil
}

// Upload stores localPath as a block blob named key.
func (u *AzureUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	if _, err := u.client.UploadFile(ctx, u.container, key, file, nil); err != nil {
		return "", fmt.Errorf("failed to upload to az://%s/%s: %w", u.container, key, err)
	}
	return fmt.Sprintf("az://%s/%s", u.container, key), nil
}

func withSAS(serviceURL, sas string) string {
	sep := "?"
	if strings.Contains(serviceURL, "?") {
		sep = "&"
	}
	return serviceURL + sep + strings.TrimPrefix(sas, "?")
}
