package keyserver

import (
	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/dht"
)

func nameKey(name string) dht.Key {
	return cellKey("name:" + name)
}

func fingerprintKey(fp string) dht.Key {
	return cellKey("fp:" + fp)
}

func cellKey(s string) dht.Key {
	full := cryptofacade.SHA3_512([]byte(s))
	var k dht.Key
	copy(k[:], full[:32])
	return k
}
