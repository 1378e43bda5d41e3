package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"
)

// ProductRow builds the wire fields for a minimal product row: Chinese
// name, normal price, and collect time. Extra columns can be added to the
// returned map before PutRecord.
func ProductRow(name string, price float64, collect time.Time) map[string]any {
	return map[string]any{
		"产品名称": name,
		"正常售价": price,
		"采集时间": collect.UnixMilli(),
	}
}

// AttachmentCell builds the wire shape of an attachment column from file
// tokens.
func AttachmentCell(tokens ...string) []map[string]any {
	cell := make([]map[string]any, 0, len(tokens))

	for i, token := range tokens {
		cell = append(cell, map[string]any{
			"file_token": token,
			"name":       fmt.Sprintf("photo_%d.png", i),
			"size":       1024,
			"type":       "image/png",
		})
	}

	return cell
}

// PNG encodes a solid-color image. Different colors give different bytes,
// which matters for content-hash dedupe scenarios.
func PNG(width, height int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("testutil: encoding fixture png: " + err.Error())
	}

	return buf.Bytes()
}
