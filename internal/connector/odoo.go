package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bull/catalog-search/internal/catalog"
)

const odooMaxBatch = 500

// OdooConfig configures an Odoo JSON-RPC connector.
type OdooConfig struct {
	BaseURL  string // Odoo instance URL, e.g. "https://company.odoo.com"
	Database string
	Username string
	APIKey   string // User API key or password
	Timeout  time.Duration
}

// Odoo fetches sellable products from an Odoo instance through the
// product.template model. The cursor is the search_read offset.
type Odoo struct {
	src *httpSource
	cfg OdooConfig

	mu  sync.Mutex
	uid int // 0 until authenticated
}

// NewOdoo creates an Odoo connector. Authentication is lazy: the first
// fetch performs the JSON-RPC login.
func NewOdoo(cfg OdooConfig) *Odoo {
	return &Odoo{src: newHTTPSource(cfg.BaseURL, cfg.Timeout, 3), cfg: cfg}
}

func (o *Odoo) Platform() string     { return "odoo" }
func (o *Odoo) MaxBatchSize() int    { return odooMaxBatch }
func (o *Odoo) SupportsImages() bool { return true }

type odooRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int            `json:"id"`
}

type odooRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *Odoo) call(ctx context.Context, service, method string, args []any, out any) error {
	payload, err := json.Marshal(odooRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: map[string]any{
			"service": service,
			"method":  method,
			"args":    args,
		},
		ID: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceRejected, err)
	}

	var resp odooRPCResponse
	if err := o.src.postJSON(ctx, "/jsonrpc", bytes.NewReader(payload), &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: odoo rpc: %s", ErrSourceRejected, resp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%w: decoding odoo result: %v", ErrSourceUnavailable, err)
		}
	}
	return nil
}

// authenticate logs in and caches the user id. Odoo returns false (not an
// error) for bad credentials, which is a permanent rejection.
func (o *Odoo) authenticate(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uid != 0 {
		return o.uid, nil
	}

	var result any
	err := o.call(ctx, "common", "authenticate",
		[]any{o.cfg.Database, o.cfg.Username, o.cfg.APIKey, map[string]any{}}, &result)
	if err != nil {
		return 0, err
	}

	uid, ok := result.(float64)
	if !ok || uid <= 0 {
		return 0, fmt.Errorf("%w: odoo authentication failed for %q", ErrSourceRejected, o.cfg.Username)
	}
	o.uid = int(uid)
	return o.uid, nil
}

// TestConnection verifies credentials by authenticating.
func (o *Odoo) TestConnection(ctx context.Context) error {
	_, err := o.authenticate(ctx)
	return err
}

func (o *Odoo) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := o.authenticate(ctx)
	if err != nil {
		return err
	}
	return o.call(ctx, "object", "execute_kw",
		[]any{o.cfg.Database, uid, o.cfg.APIKey, model, method, args, kwargs}, out)
}

type odooProduct struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	DescriptionSale any     `json:"description_sale"` // string or false
	ListPrice       float64 `json:"list_price"`
	CategID         any     `json:"categ_id"` // [id, name] or false
	DefaultCode     any     `json:"default_code"`
	QtyAvailable    float64 `json:"qty_available"`
	WriteDate       string  `json:"write_date"`
	Image1920       any     `json:"image_1920"` // base64 or false
}

// FetchBatch reads one offset window of sellable product templates.
func (o *Odoo) FetchBatch(ctx context.Context, cursor string, batchSize int) (*Batch, error) {
	offset, err := parseOffsetCursor(cursor)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 || batchSize > odooMaxBatch {
		batchSize = odooMaxBatch
	}

	var products []odooProduct
	err = o.executeKw(ctx, "product.template", "search_read",
		[]any{[]any{[]any{"sale_ok", "=", true}}},
		map[string]any{
			"fields": []string{
				"id", "name", "description_sale", "list_price",
				"categ_id", "image_1920", "default_code", "qty_available", "write_date",
			},
			"limit":  batchSize,
			"offset": offset,
		}, &products)
	if err != nil {
		return nil, err
	}

	records := make([]catalog.ProductRecord, 0, len(products))
	for _, p := range products {
		records = append(records, o.parseProduct(p))
	}

	return &Batch{
		Records:    records,
		NextCursor: strconv.Itoa(offset + len(products)),
		HasMore:    len(products) == batchSize,
	}, nil
}

func (o *Odoo) parseProduct(p odooProduct) catalog.ProductRecord {
	var category string
	if pair, ok := p.CategID.([]any); ok && len(pair) == 2 {
		category, _ = pair[1].(string)
	}

	description, _ := p.DescriptionSale.(string)

	// Odoo stores images inline as base64; expose the web image endpoint
	// instead so the embedding side can fetch it like any other URL.
	var imageURL string
	if _, hasImage := p.Image1920.(string); hasImage {
		imageURL = fmt.Sprintf("%s/web/image/product.template/%d/image_1920", o.cfg.BaseURL, p.ID)
	}

	updatedAt := time.Now().UTC()
	if p.WriteDate != "" {
		if parsed, err := time.Parse("2006-01-02 15:04:05", p.WriteDate); err == nil {
			updatedAt = parsed
		}
	}

	inStock := p.QtyAvailable > 0
	return catalog.ProductRecord{
		ExternalID:  strconv.Itoa(p.ID),
		Platform:    o.Platform(),
		Title:       p.Name,
		Description: description,
		Price:       p.ListPrice,
		Category:    category,
		ImageURL:    imageURL,
		InStock:     &inStock,
		UpdatedAt:   updatedAt,
	}
}

var _ Connector = (*Odoo)(nil)
