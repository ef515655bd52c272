package cache

import "fmt"

func ProviderPriceKey(provider, sku string) string {
	return fmt.Sprintf("price:%s:%s", provider, sku)
}

func ComparisonKey(sku string) string {
	return fmt.Sprintf("comparison:%s", sku)
}

func PriceHistoryKey(provider, sku string) string {
	return fmt.Sprintf("history:%s:%s", provider, sku)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
