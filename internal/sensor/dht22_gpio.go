//go:build dht

package sensor

import dht "github.com/iZonex/go-dht"

func init() {
	readDHT22 = func(pin int) (float32, float32, error) {
		return dht.ReadDHTxx(dht.DHT22, pin, false)
	}
}
