package mocks

//go:generate mockgen -destination=cache.go -package=mocks github.com/ariefcatur/go-cached-orders/internal/cacheaside Cache
//go:generate mockgen -destination=publisher.go -package=mocks github.com/ariefcatur/go-cached-orders/internal/eventbus Publisher
//go:generate mockgen -destination=order_store.go -package=mocks -mock_names=Store=MockOrderStore github.com/ariefcatur/go-cached-orders/internal/orders Store
//go:generate mockgen -destination=product_store.go -package=mocks -mock_names=Store=MockProductStore github.com/ariefcatur/go-cached-orders/internal/products Store,Marks
