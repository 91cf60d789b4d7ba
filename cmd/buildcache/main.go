// Command buildcache runs documentation generators through the incremental
// build cache and manages the cache.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
