package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bull/catalog-search/internal/catalog"
)

const magentoMaxBatch = 200

// MagentoConfig configures a Magento 2 REST connector.
type MagentoConfig struct {
	// BaseURL is the store's REST root, e.g. "https://store.example.com/rest/V1".
	BaseURL string
	// AccessToken is the integration token from the Magento admin.
	AccessToken string
	Timeout     time.Duration
}

// Magento fetches products from a Magento 2 store via its searchCriteria
// API. The cursor is the 1-based page number.
type Magento struct {
	src   *httpSource
	token string
}

// NewMagento creates a Magento 2 connector.
func NewMagento(cfg MagentoConfig) *Magento {
	return &Magento{
		src:   newHTTPSource(cfg.BaseURL, cfg.Timeout, 3),
		token: cfg.AccessToken,
	}
}

func (m *Magento) Platform() string     { return "magento" }
func (m *Magento) MaxBatchSize() int    { return magentoMaxBatch }
func (m *Magento) SupportsImages() bool { return true }

func (m *Magento) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.token)
	return h
}

type magentoProduct struct {
	ID               int     `json:"id"`
	SKU              string  `json:"sku"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	Status           int     `json:"status"`
	UpdatedAt        string  `json:"updated_at"`
	CustomAttributes []struct {
		AttributeCode string `json:"attribute_code"`
		Value         any    `json:"value"`
	} `json:"custom_attributes"`
	MediaGalleryEntries []struct {
		File string `json:"file"`
	} `json:"media_gallery_entries"`
}

type magentoProductList struct {
	Items      []magentoProduct `json:"items"`
	TotalCount int              `json:"total_count"`
}

// TestConnection verifies the token against the store config endpoint.
func (m *Magento) TestConnection(ctx context.Context) error {
	var out any
	return m.src.getJSON(ctx, "/store/storeConfigs", m.header(), &out)
}

// FetchBatch returns one searchCriteria page of products.
func (m *Magento) FetchBatch(ctx context.Context, cursor string, batchSize int) (*Batch, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("%w: malformed cursor %q", ErrSourceRejected, cursor)
		}
		page = parsed
	}
	if batchSize <= 0 || batchSize > magentoMaxBatch {
		batchSize = magentoMaxBatch
	}

	query := url.Values{}
	query.Set("searchCriteria[pageSize]", strconv.Itoa(batchSize))
	query.Set("searchCriteria[currentPage]", strconv.Itoa(page))

	var list magentoProductList
	if err := m.src.getJSON(ctx, "/products?"+query.Encode(), m.header(), &list); err != nil {
		return nil, err
	}

	records := make([]catalog.ProductRecord, 0, len(list.Items))
	for _, item := range list.Items {
		records = append(records, m.parseProduct(item))
	}

	return &Batch{
		Records:    records,
		NextCursor: strconv.Itoa(page + 1),
		HasMore:    page*batchSize < list.TotalCount,
	}, nil
}

func (m *Magento) parseProduct(p magentoProduct) catalog.ProductRecord {
	externalID := p.SKU
	if externalID == "" {
		externalID = strconv.Itoa(p.ID)
	}

	var description, category string
	for _, attr := range p.CustomAttributes {
		value, ok := attr.Value.(string)
		if !ok {
			continue
		}
		switch attr.AttributeCode {
		case "description":
			description = value
		case "category":
			category = value
		}
	}

	var imageURL string
	if len(p.MediaGalleryEntries) > 0 && p.MediaGalleryEntries[0].File != "" {
		imageURL = m.src.baseURL + "/pub/media/catalog/product" + p.MediaGalleryEntries[0].File
	}

	updatedAt := time.Now().UTC()
	if p.UpdatedAt != "" {
		// Magento timestamps look like "2024-05-01 12:30:00"
		if parsed, err := time.Parse("2006-01-02 15:04:05", p.UpdatedAt); err == nil {
			updatedAt = parsed
		}
	}

	inStock := p.Status == 1
	return catalog.ProductRecord{
		ExternalID:  externalID,
		Platform:    m.Platform(),
		Title:       p.Name,
		Description: description,
		Price:       p.Price,
		Category:    category,
		ImageURL:    imageURL,
		InStock:     &inStock,
		UpdatedAt:   updatedAt,
	}
}

var _ Connector = (*Magento)(nil)
