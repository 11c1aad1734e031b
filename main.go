package main

import "nvdeb/internal/nvdeb"

func main() {
	nvdeb.Main()
}
