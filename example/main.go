package main

import (
	"context"
	"fmt"

	"github.com/mstgnz/gioc/v2"
)

type UserRepository struct {
	db string
}

type UserService struct {
	userRepository *UserRepository
}

type UserHandler struct {
	userService *UserService
}

// Factory Function for UserRepository
func NewUserRepository(context.Context, *gioc.Container) (any, error) {
	fmt.Println("NewUserRepository called")
	return &UserRepository{db: "DB Connection"}, nil
}

// Factory Function for UserService
func NewUserService(ctx context.Context, c *gioc.Container) (any, error) {
	fmt.Println("NewUserService called")
	repo, err := gioc.Get[*UserRepository](ctx, c, "userRepository")
	if err != nil {
		return nil, err
	}
	return &UserService{userRepository: repo}, nil
}

// Factory Function for UserHandler
func NewUserHandler(ctx context.Context, c *gioc.Container) (any, error) {
	fmt.Println("NewUserHandler called")
	svc, err := gioc.Get[*UserService](ctx, c, "userService")
	if err != nil {
		return nil, err
	}
	return &UserHandler{userService: svc}, nil
}

func main() {
	c := gioc.New()
	c.MustRegister(gioc.BeanDefinition{Name: "userRepository", Factory: NewUserRepository})
	c.MustRegister(gioc.BeanDefinition{Name: "userService", Factory: NewUserService, DependsOn: []string{"userRepository"}})
	c.MustRegister(gioc.BeanDefinition{Name: "userHandler", Factory: NewUserHandler, DependsOn: []string{"userService"}})
	if err := c.Validate(); err != nil {
		panic(err)
	}

	// We retrieve objects by name
	ctx := context.Background()
	handler1 := gioc.MustGet[*UserHandler](ctx, c, "userHandler")
	handler2 := gioc.MustGet[*UserHandler](ctx, c, "userHandler")

	// Note that the same object is retrieved, it is created once.
	fmt.Println(handler1 == handler2)

	// List names of registered beans
	fmt.Println(c.Names())
}
