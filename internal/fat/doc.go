// Copyright 2017 the gokrazy authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fat writes FAT16B file system images for data partitions and
// locates files inside images it wrote.
//
// Images use 512 byte sectors and 4 sectors per cluster, which limits
// them to about 127 MB. Files are stored unfragmented.
package fat
