// Package qrgen renders a ticket serial into a scannable QR image. The core
// only depends on the serial being a stable opaque token; the image is what
// gate scanners consume.
package qrgen

import (
	"github.com/skip2/go-qrcode"
)

type Renderer struct {
	size int
}

func NewRenderer() *Renderer {
	return &Renderer{size: 256}
}

func (r *Renderer) RenderIdentifier(serial string) ([]byte, error) {
	return qrcode.Encode(serial, qrcode.Medium, r.size)
}
