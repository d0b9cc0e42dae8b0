package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/dataset/cifar"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const syntheticDefault = 64

// loadData returns the train and test splits selected by the flags, and the
// normalization applied to their pixels.
func loadData(ctx context.Context, o *options) (trainDS, testDS dataset.Dataset, norm *dataset.Normalization, err error) {
	switch o.dataset {
	case "cifar10":
		dir := o.data
		if dir == "" {
			dir = filepath.Join(o.cache, "cifar10")
		}
		train, test, err := cifar.Load(ctx, cifar.Config{
			Dir:           dir,
			ImageSize:     o.imageSize,
			Normalization: dataset.ImageNet,
			Limit:         o.limit,
			Download:      true,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return train, test, dataset.ImageNet, nil

	case "folder":
		train, test, err := loadFolders(o)
		return train, test, dataset.ImageNet, err

	case "synthetic":
		n := o.limit
		if n == 0 {
			n = syntheticDefault
		}
		// Limit applies per split, as for the other datasets.
		all, err := dataset.NewSynthetic(2*n, 3, o.imageSize, o.imageSize, o.classes, o.seed)
		if err != nil {
			return nil, nil, nil, err
		}
		train, test := all.Split(0.5)
		klog.Infof("Synthetic: %d train / %d test examples, %d classes", train.Len(), test.Len(), o.classes)
		return train, test, nil, nil

	default:
		return nil, nil, nil, errors.Errorf("unknown dataset %q (want cifar10, folder or synthetic)", o.dataset)
	}
}

// loadFolders reads data/train and data/test when both exist. Otherwise the
// whole of data is read into memory and split 80/20.
func loadFolders(o *options) (dataset.Dataset, dataset.Dataset, error) {
	if o.data == "" {
		return nil, nil, errors.New("-data is required for the folder dataset")
	}
	trainOpts := dataset.FolderOptions{Size: o.imageSize, Flip: true, Seed: o.seed, Normalization: dataset.ImageNet}
	testOpts := dataset.FolderOptions{Size: o.imageSize, Normalization: dataset.ImageNet}

	trainDir, testDir := filepath.Join(o.data, "train"), filepath.Join(o.data, "test")
	if isDir(trainDir) && isDir(testDir) {
		train, err := dataset.NewImageFolder(trainDir, trainOpts)
		if err != nil {
			return nil, nil, err
		}
		test, err := dataset.NewImageFolder(testDir, testOpts)
		if err != nil {
			return nil, nil, err
		}
		if len(train.Classes()) != len(test.Classes()) {
			return nil, nil, errors.Errorf("train has %d classes but test has %d", len(train.Classes()), len(test.Classes()))
		}
		return dataset.Limit(train, o.limit), dataset.Limit(test, o.limit), nil
	}

	folder, err := dataset.NewImageFolder(o.data, testOpts)
	if err != nil {
		return nil, nil, err
	}
	all, err := dataset.Materialize(folder)
	if err != nil {
		return nil, nil, err
	}
	train, test := all.Shuffle(o.seed).Split(0.2)
	return dataset.Limit(train, o.limit), dataset.Limit(test, o.limit), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
