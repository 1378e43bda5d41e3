// Package catalog defines the canonical product model and the pipeline that
// turns raw upstream spreadsheet rows into it: a declarative field mapping
// table, a transformer with per-field coercion and validation, and a change
// detector that diffs a fresh transform against the stored row.
package catalog

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// NameSentinel fills a product's display name when the row carries neither
// an English nor a Chinese name. Stored products never have an empty display.
const NameSentinel = "未命名产品"

// MaxPrice is the upper bound accepted for any price field.
const MaxPrice = 999999.99

var (
	barcodePattern = regexp.MustCompile(`^[0-9]{8,13}$`)
	linkPattern    = regexp.MustCompile(`^https?://`)
)

// Status is a product's lifecycle state. Sync never deletes rows; soft
// deletes park them as inactive.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// ImageType names one of the fixed product image slots.
type ImageType string

const (
	ImageFront   ImageType = "front"
	ImageBack    ImageType = "back"
	ImageLabel   ImageType = "label"
	ImagePackage ImageType = "package"
	ImageGift    ImageType = "gift"
)

// ImageTypes lists the slots in their fixed presentation order.
var ImageTypes = []ImageType{ImageFront, ImageBack, ImageLabel, ImagePackage, ImageGift}

// LocalizedText is a bilingual value with a computed display form: English
// when present, else Chinese, else the caller's sentinel.
type LocalizedText struct {
	English string `json:"english,omitempty"`
	Chinese string `json:"chinese,omitempty"`
	Display string `json:"display"`
}

// Empty reports whether neither language carries a value.
func (lt LocalizedText) Empty() bool {
	return lt.English == "" && lt.Chinese == ""
}

func (lt *LocalizedText) computeDisplay(sentinel string) {
	switch {
	case lt.English != "":
		lt.Display = lt.English
	case lt.Chinese != "":
		lt.Display = lt.Chinese
	default:
		lt.Display = sentinel
	}
}

// Category is the two-level product classification.
type Category struct {
	Primary   *LocalizedText `json:"primary,omitempty"`
	Secondary *LocalizedText `json:"secondary,omitempty"`
}

// Price carries the normal price and optional discount. DiscountRate is
// derived, never mapped from the upstream.
type Price struct {
	Normal       float64  `json:"normal"`
	Discount     *float64 `json:"discount,omitempty"`
	DiscountRate *float64 `json:"discountRate,omitempty"`
}

// Origin locates where the product was collected.
type Origin struct {
	Country  *LocalizedText `json:"country,omitempty"`
	Province *LocalizedText `json:"province,omitempty"`
	City     *LocalizedText `json:"city,omitempty"`
}

// ImageSet holds the public object-store URL for each image slot.
type ImageSet struct {
	Front   string `json:"front,omitempty"`
	Back    string `json:"back,omitempty"`
	Label   string `json:"label,omitempty"`
	Package string `json:"package,omitempty"`
	Gift    string `json:"gift,omitempty"`
}

// URL returns the stored URL for the given slot.
func (s ImageSet) URL(t ImageType) string {
	switch t {
	case ImageFront:
		return s.Front
	case ImageBack:
		return s.Back
	case ImageLabel:
		return s.Label
	case ImagePackage:
		return s.Package
	case ImageGift:
		return s.Gift
	default:
		return ""
	}
}

// SetURL stores a URL into the given slot.
func (s *ImageSet) SetURL(t ImageType, url string) {
	switch t {
	case ImageFront:
		s.Front = url
	case ImageBack:
		s.Back = url
	case ImageLabel:
		s.Label = url
	case ImagePackage:
		s.Package = url
	case ImageGift:
		s.Gift = url
	}
}

// Product is the canonical catalog row. ProductID equals the upstream
// record id; Version increases strictly on every write.
type Product struct {
	ProductID      string `json:"productId"`
	FeishuRecordID string `json:"feishuRecordId"`

	Name     LocalizedText `json:"name"`
	Category Category      `json:"category"`
	Price    Price         `json:"price"`
	Origin   Origin        `json:"origin"`

	Platform      *LocalizedText `json:"platform,omitempty"`
	Specification *LocalizedText `json:"specification,omitempty"`
	Flavor        *LocalizedText `json:"flavor,omitempty"`
	Manufacturer  *LocalizedText `json:"manufacturer,omitempty"`

	Images ImageSet `json:"images"`

	CollectTime time.Time `json:"collectTime"`
	Link        string    `json:"link,omitempty"`
	BoxSpec     string    `json:"boxSpec,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Barcode     string    `json:"barcode,omitempty"`

	SyncTime  time.Time `json:"syncTime"`
	Version   int64     `json:"version"`
	Status    Status    `json:"status"`
	IsVisible bool      `json:"isVisible"`
}

// ComputeDisplays fills every display field. Only the name uses the
// non-empty sentinel; an optional localized field that exists always has at
// least one language set.
func (p *Product) ComputeDisplays() {
	p.Name.computeDisplay(NameSentinel)

	for _, lt := range []*LocalizedText{
		p.Category.Primary, p.Category.Secondary,
		p.Origin.Country, p.Origin.Province, p.Origin.City,
		p.Platform, p.Specification, p.Flavor, p.Manufacturer,
	} {
		if lt != nil {
			lt.computeDisplay("")
		}
	}
}

// DeriveDiscountRate recomputes price.discountRate from the two prices,
// clamped to [0, 1]. Absent discount or non-positive normal price clears it.
func (p *Product) DeriveDiscountRate() {
	if p.Price.Discount == nil || p.Price.Normal <= 0 {
		p.Price.DiscountRate = nil

		return
	}

	rate := 1 - *p.Price.Discount/p.Price.Normal
	rate = math.Max(0, math.Min(1, rate))
	rate = round2(rate)
	p.Price.DiscountRate = &rate
}

// ValidBarcode reports whether s is 8 to 13 digits.
func ValidBarcode(s string) bool {
	return barcodePattern.MatchString(s)
}

// ValidLink reports whether s is an http or https URL.
func ValidLink(s string) bool {
	return linkPattern.MatchString(s)
}

// round2 rounds to two decimal places, the precision every price and rate
// is stored at.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// trimEqual compares two strings ignoring surrounding whitespace.
func trimEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
