// Package models defines the three exported networks: a small LeNet-style
// image classifier, a plain convolutional upscaler and the RRDB (residual
// in residual dense block) super-resolution network.
//
// Every parameter carries the name it has in the corresponding PyTorch
// state dict, so checkpoints load without key mapping.
package models
